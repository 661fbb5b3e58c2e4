package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evvos/pairing/internal/credcrypt"
	"github.com/evvos/pairing/internal/db/sqlc"
	"github.com/evvos/pairing/internal/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/lo"
)

const DefaultTokenTTL = 24 * time.Hour

var (
	ErrMissingIdentity  = errors.New("verified identity is required")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrSessionNotFound  = errors.New("pairing token not found")
	ErrTokenAlreadyUsed = errors.New("pairing token already used")
	ErrTokenExpired     = errors.New("pairing token expired")
	ErrStorage          = errors.New("storage failure")
)

// errSessionInactive aborts the finish transaction when the conditional
// claim matches no row.
var errSessionInactive = errors.New("session no longer active")

// Store is the persistence the service needs. ExecTx must run fn atomically.
type Store interface {
	sqlc.Querier
	ExecTx(ctx context.Context, fn func(sqlc.Querier) error) error
}

type Options struct {
	TokenTTL      time.Duration
	CredentialKey string
}

type Service struct {
	store     Store
	sealer    *credcrypt.Sealer
	sealerErr error
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:    store,
		tokenTTL: opts.TokenTTL,
		now:      time.Now,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = DefaultTokenTTL
	}
	s.sealer, s.sealerErr = credcrypt.NewSealer(opts.CredentialKey)
	return s
}

// CryptoReady reports the credential key problem, if any. Finish fails with
// the same error until the key is fixed.
func (s *Service) CryptoReady() error {
	return s.sealerErr
}

// CreateToken issues a one-time pairing token owned by userID.
func (s *Service) CreateToken(ctx context.Context, userID string, deviceName string) (*IssuedToken, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingIdentity
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.tokenTTL).UTC()

	dbSession, err := s.store.CreateProvisioningSession(ctx, sqlc.CreateProvisioningSessionParams{
		UserID:     userID,
		TokenHash:  HashToken(token),
		DeviceName: textOrNull(deviceName),
		ExpiresAt:  pgtype.Timestamptz{Time: expiresAt, Valid: true},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to store session: %w", ErrStorage, err)
	}

	metrics.TokensCreated.Inc()

	session := toSession(dbSession)
	slog.Info("Pairing token created",
		"session_id", session.ID,
		"user_id", userID,
		"device_name", session.DeviceName,
		"expires_at", session.ExpiresAt)

	// The plaintext token is returned exactly once.
	return &IssuedToken{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		Session:   session,
	}, nil
}

// Finish exchanges a pairing token for stored, encrypted WiFi credentials.
//
// The session claim is a conditional update executed in the same transaction
// as the credential insert, so a token yields at most one credential even
// under concurrent calls, and a failed insert leaves the token unused.
func (s *Service) Finish(ctx context.Context, req FinishRequest) error {
	err := s.finish(ctx, req)
	metrics.FinishResults.WithLabelValues(finishResult(err)).Inc()
	return err
}

func (s *Service) finish(ctx context.Context, req FinishRequest) error {
	token := strings.TrimSpace(req.Token)
	if token == "" || req.SSID == "" || req.Password == "" {
		return fmt.Errorf("%w: missing fields (token, ssid, password)", ErrInvalidRequest)
	}

	tokenHash := HashToken(token)

	session, err := s.store.GetActiveSessionByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.explainInactive(ctx, tokenHash, token)
		}
		return fmt.Errorf("%w: failed to lookup session: %w", ErrStorage, err)
	}

	if s.sealerErr != nil {
		slog.Error("Credential encryption key unusable", "error", s.sealerErr)
		return s.sealerErr
	}

	blob, err := s.sealer.SealCredential(credcrypt.WiFiCredential{SSID: req.SSID, Password: req.Password})
	if err != nil {
		return fmt.Errorf("failed to seal credential: %w", err)
	}

	deviceName := lo.CoalesceOrEmpty(strings.TrimSpace(req.DeviceName), session.DeviceName.String)

	err = s.store.ExecTx(ctx, func(q sqlc.Querier) error {
		claimed, err := q.ConsumeSession(ctx, sqlc.ConsumeSessionParams{
			ID:         session.ID,
			DeviceName: textOrNull(deviceName),
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errSessionInactive
			}
			return fmt.Errorf("%w: failed to consume session: %w", ErrStorage, err)
		}

		if _, err := q.CreateDeviceCredential(ctx, sqlc.CreateDeviceCredentialParams{
			UserID:               claimed.UserID,
			DeviceName:           textOrNull(deviceName),
			SessionID:            claimed.ID,
			EncryptedCredentials: blob,
		}); err != nil {
			return fmt.Errorf("%w: failed to store credential: %w", ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errSessionInactive) {
			// Claimed concurrently or expired since the lookup.
			return s.explainInactive(ctx, tokenHash, token)
		}
		if errors.Is(err, ErrStorage) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	slog.Info("Device credentials stored",
		"session_id", uuidString(session.ID),
		"user_id", session.UserID,
		"device_name", deviceName)
	return nil
}

// explainInactive runs the unfiltered lookup purely to give the caller a
// precise reason why the token cannot be used.
func (s *Service) explainInactive(ctx context.Context, tokenHash, token string) error {
	session, err := s.store.GetSessionByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.Warn("Finish attempt with unknown token", "token", TokenPrefix(token))
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: failed to lookup session: %w", ErrStorage, err)
	}

	if session.Consumed {
		slog.Warn("Finish attempt with used token", "session_id", uuidString(session.ID))
		return ErrTokenAlreadyUsed
	}

	// Not consumed but not active either: the database clock says it expired.
	slog.Warn("Finish attempt with expired token",
		"session_id", uuidString(session.ID),
		"expires_at", session.ExpiresAt.Time)
	return ErrTokenExpired
}

// HasCredential reports whether any credential was stored for userID.
func (s *Service) HasCredential(ctx context.Context, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, ErrMissingIdentity
	}
	count, err := s.store.CountCredentialsByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: failed to count credentials: %w", ErrStorage, err)
	}
	return count > 0, nil
}

func (s *Service) ListCredentials(ctx context.Context, userID string) ([]DeviceCredential, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingIdentity
	}
	rows, err := s.store.ListCredentialsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list credentials: %w", ErrStorage, err)
	}

	result := make([]DeviceCredential, len(rows))
	for i, r := range rows {
		result[i] = DeviceCredential{
			ID:         uuidString(r.ID),
			UserID:     r.UserID,
			DeviceName: r.DeviceName.String,
			SessionID:  uuidString(r.SessionID),
			CreatedAt:  r.CreatedAt.Time,
		}
	}
	return result, nil
}

// SessionStatus returns the consumption state of the caller's own session.
func (s *Service) SessionStatus(ctx context.Context, userID string, tokenHash string) (*SessionStatus, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingIdentity
	}
	tokenHash = strings.ToLower(strings.TrimSpace(tokenHash))
	if tokenHash == "" {
		return nil, fmt.Errorf("%w: token hash is required", ErrInvalidRequest)
	}

	session, err := s.store.GetSessionByHashForUser(ctx, sqlc.GetSessionByHashForUserParams{
		TokenHash: tokenHash,
		UserID:    userID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: failed to lookup session: %w", ErrStorage, err)
	}

	status := &SessionStatus{
		Consumed:  session.Consumed,
		ExpiresAt: session.ExpiresAt.Time,
	}
	if session.ConsumedAt.Valid {
		t := session.ConsumedAt.Time
		status.ConsumedAt = &t
	}
	return status, nil
}

func finishResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, ErrTokenAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, credcrypt.ErrKeyMissing), errors.Is(err, credcrypt.ErrKeyMalformed):
		return "crypto_config"
	default:
		return "error"
	}
}

func toSession(s sqlc.ProvisioningSession) ProvisioningSession {
	result := ProvisioningSession{
		ID:         uuidString(s.ID),
		UserID:     s.UserID,
		TokenHash:  s.TokenHash,
		DeviceName: s.DeviceName.String,
		CreatedAt:  s.CreatedAt.Time,
		ExpiresAt:  s.ExpiresAt.Time,
		Consumed:   s.Consumed,
	}
	if s.ConsumedAt.Valid {
		t := s.ConsumedAt.Time
		result.ConsumedAt = &t
	}
	return result
}

func textOrNull(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}
