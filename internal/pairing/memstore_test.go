package pairing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evvos/pairing/internal/db/sqlc"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createSession(t *testing.T, store *MemStore, hash string, ttl time.Duration) sqlc.ProvisioningSession {
	t.Helper()
	s, err := store.CreateProvisioningSession(context.Background(), sqlc.CreateProvisioningSessionParams{
		UserID:    testUser,
		TokenHash: hash,
		ExpiresAt: pgtype.Timestamptz{Time: time.Now().Add(ttl), Valid: true},
	})
	require.NoError(t, err)
	return s
}

func TestMemStoreRejectsDuplicateHash(t *testing.T) {
	store := NewMemStore()
	createSession(t, store, "h1", time.Hour)

	_, err := store.CreateProvisioningSession(context.Background(), sqlc.CreateProvisioningSessionParams{
		UserID:    testUser,
		TokenHash: "h1",
	})
	assert.Error(t, err)
}

func TestMemStoreActiveLookup(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	createSession(t, store, "live", time.Hour)
	createSession(t, store, "stale", -time.Hour)

	_, err := store.GetActiveSessionByHash(ctx, "live")
	assert.NoError(t, err)

	_, err = store.GetActiveSessionByHash(ctx, "stale")
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	_, err = store.GetSessionByHash(ctx, "stale")
	assert.NoError(t, err)

	_, err = store.GetActiveSessionByHash(ctx, "missing")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMemStoreConsumeIsConditional(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	s := createSession(t, store, "h1", time.Hour)

	claimed, err := store.ConsumeSession(ctx, sqlc.ConsumeSessionParams{ID: s.ID})
	require.NoError(t, err)
	assert.True(t, claimed.Consumed)

	_, err = store.ConsumeSession(ctx, sqlc.ConsumeSessionParams{ID: s.ID})
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	stale := createSession(t, store, "h2", -time.Second)
	_, err = store.ConsumeSession(ctx, sqlc.ConsumeSessionParams{ID: stale.ID})
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMemStoreExecTxRollsBack(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	s := createSession(t, store, "h1", time.Hour)

	boom := errors.New("boom")
	err := store.ExecTx(ctx, func(q sqlc.Querier) error {
		if _, err := q.ConsumeSession(ctx, sqlc.ConsumeSessionParams{ID: s.ID}); err != nil {
			return err
		}
		if _, err := q.CreateDeviceCredential(ctx, sqlc.CreateDeviceCredentialParams{UserID: testUser, SessionID: s.ID}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetSessionByHash(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, got.Consumed)

	count, err := store.CountCredentialsByUser(ctx, testUser)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemStoreSessionOwnership(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	createSession(t, store, "h1", time.Hour)

	_, err := store.GetSessionByHashForUser(ctx, sqlc.GetSessionByHashForUserParams{TokenHash: "h1", UserID: testUser})
	assert.NoError(t, err)

	_, err = store.GetSessionByHashForUser(ctx, sqlc.GetSessionByHashForUserParams{TokenHash: "h1", UserID: "other"})
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}
