package pairing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evvos/pairing/internal/db/sqlc"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// MemStore is an in-process Store. It backs tests and the server's
// database-less development mode; transactions are serialised and rolled
// back on error.
type MemStore struct {
	mu          sync.Mutex
	sessions    map[string]*sqlc.ProvisioningSession // keyed by token hash
	credentials []sqlc.DeviceCredential
	now         func() time.Time

	credentialInsertErr error
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]*sqlc.ProvisioningSession),
		now:      time.Now,
	}
}

func (m *MemStore) ExecTx(ctx context.Context, fn func(sqlc.Querier) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := make(map[string]sqlc.ProvisioningSession, len(m.sessions))
	for k, v := range m.sessions {
		sessions[k] = *v
	}
	credentials := len(m.credentials)

	if err := fn(memQueries{m}); err != nil {
		m.sessions = make(map[string]*sqlc.ProvisioningSession, len(sessions))
		for k, v := range sessions {
			m.sessions[k] = &v
		}
		m.credentials = m.credentials[:credentials]
		return err
	}
	return nil
}

func (m *MemStore) ConsumeSession(ctx context.Context, arg sqlc.ConsumeSessionParams) (sqlc.ProvisioningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.ConsumeSession(ctx, arg)
}

func (m *MemStore) CountCredentialsByUser(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.CountCredentialsByUser(ctx, userID)
}

func (m *MemStore) CreateDeviceCredential(ctx context.Context, arg sqlc.CreateDeviceCredentialParams) (sqlc.DeviceCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.CreateDeviceCredential(ctx, arg)
}

func (m *MemStore) CreateProvisioningSession(ctx context.Context, arg sqlc.CreateProvisioningSessionParams) (sqlc.ProvisioningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.CreateProvisioningSession(ctx, arg)
}

func (m *MemStore) GetActiveSessionByHash(ctx context.Context, tokenHash string) (sqlc.ProvisioningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.GetActiveSessionByHash(ctx, tokenHash)
}

func (m *MemStore) GetSessionByHash(ctx context.Context, tokenHash string) (sqlc.ProvisioningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.GetSessionByHash(ctx, tokenHash)
}

func (m *MemStore) GetSessionByHashForUser(ctx context.Context, arg sqlc.GetSessionByHashForUserParams) (sqlc.ProvisioningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.GetSessionByHashForUser(ctx, arg)
}

func (m *MemStore) ListCredentialsByUser(ctx context.Context, userID string) ([]sqlc.DeviceCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.ListCredentialsByUser(ctx, userID)
}

// memQueries implements sqlc.Querier on the MemStore maps. Callers hold m.mu.
type memQueries struct {
	m *MemStore
}

func (q memQueries) ConsumeSession(_ context.Context, arg sqlc.ConsumeSessionParams) (sqlc.ProvisioningSession, error) {
	for _, s := range q.m.sessions {
		if s.ID != arg.ID {
			continue
		}
		if s.Consumed || !s.ExpiresAt.Time.After(q.m.now()) {
			return sqlc.ProvisioningSession{}, pgx.ErrNoRows
		}
		s.Consumed = true
		s.ConsumedAt = pgtype.Timestamptz{Time: q.m.now().UTC(), Valid: true}
		s.DeviceName = arg.DeviceName
		return *s, nil
	}
	return sqlc.ProvisioningSession{}, pgx.ErrNoRows
}

func (q memQueries) CountCredentialsByUser(_ context.Context, userID string) (int64, error) {
	var count int64
	for _, c := range q.m.credentials {
		if c.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (q memQueries) CreateDeviceCredential(_ context.Context, arg sqlc.CreateDeviceCredentialParams) (sqlc.DeviceCredential, error) {
	if q.m.credentialInsertErr != nil {
		return sqlc.DeviceCredential{}, q.m.credentialInsertErr
	}
	c := sqlc.DeviceCredential{
		ID:                   newUUID(),
		UserID:               arg.UserID,
		DeviceName:           arg.DeviceName,
		SessionID:            arg.SessionID,
		EncryptedCredentials: append([]byte(nil), arg.EncryptedCredentials...),
		CreatedAt:            pgtype.Timestamptz{Time: q.m.now().UTC(), Valid: true},
	}
	q.m.credentials = append(q.m.credentials, c)
	return c, nil
}

func (q memQueries) CreateProvisioningSession(_ context.Context, arg sqlc.CreateProvisioningSessionParams) (sqlc.ProvisioningSession, error) {
	if _, exists := q.m.sessions[arg.TokenHash]; exists {
		return sqlc.ProvisioningSession{}, fmt.Errorf("duplicate token hash")
	}
	s := &sqlc.ProvisioningSession{
		ID:         newUUID(),
		UserID:     arg.UserID,
		TokenHash:  arg.TokenHash,
		DeviceName: arg.DeviceName,
		CreatedAt:  pgtype.Timestamptz{Time: q.m.now().UTC(), Valid: true},
		ExpiresAt:  arg.ExpiresAt,
	}
	q.m.sessions[arg.TokenHash] = s
	return *s, nil
}

func (q memQueries) GetActiveSessionByHash(_ context.Context, tokenHash string) (sqlc.ProvisioningSession, error) {
	s, ok := q.m.sessions[tokenHash]
	if !ok || s.Consumed || !s.ExpiresAt.Time.After(q.m.now()) {
		return sqlc.ProvisioningSession{}, pgx.ErrNoRows
	}
	return *s, nil
}

func (q memQueries) GetSessionByHash(_ context.Context, tokenHash string) (sqlc.ProvisioningSession, error) {
	s, ok := q.m.sessions[tokenHash]
	if !ok {
		return sqlc.ProvisioningSession{}, pgx.ErrNoRows
	}
	return *s, nil
}

func (q memQueries) GetSessionByHashForUser(_ context.Context, arg sqlc.GetSessionByHashForUserParams) (sqlc.ProvisioningSession, error) {
	s, ok := q.m.sessions[arg.TokenHash]
	if !ok || s.UserID != arg.UserID {
		return sqlc.ProvisioningSession{}, pgx.ErrNoRows
	}
	return *s, nil
}

func (q memQueries) ListCredentialsByUser(_ context.Context, userID string) ([]sqlc.DeviceCredential, error) {
	var result []sqlc.DeviceCredential
	for _, c := range q.m.credentials {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Time.After(result[j].CreatedAt.Time)
	})
	return result, nil
}

func newUUID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}
}
