package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db/dbtest"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

func TestIntegrationPGStoreInsertConflictKeepsTxUsable(t *testing.T) {
	pool := dbtest.Start(t)
	ctx := context.Background()
	a := dbtest.InsertID(t, pool, `INSERT INTO users (email) VALUES ('a@example.com') RETURNING id`)
	b := dbtest.InsertID(t, pool, `INSERT INTO users (email) VALUES ('b@example.com') RETURNING id`)
	store := NewStore(pool)
	exp := time.Now().Add(time.Hour)

	err := store.WithTx(ctx, func(ctx context.Context, tx RefreshTokenTx) error {
		_, err := tx.Insert(ctx, RefreshToken{Token: "dup", PrincipalID: a, ExpiresAt: exp})
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(ctx context.Context, tx RefreshTokenTx) error {
		require.NoError(t, tx.LockPrincipal(ctx, b))
		_, err := tx.Insert(ctx, RefreshToken{Token: "dup", PrincipalID: b, ExpiresAt: exp})
		require.ErrorIs(t, err, shared.ErrConflict)
		_, err = tx.Insert(ctx, RefreshToken{Token: "unique", PrincipalID: b, ExpiresAt: exp})
		return err
	})
	require.NoError(t, err)

	n, err := store.CountActive(ctx, b, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = store.WithTx(ctx, func(ctx context.Context, tx RefreshTokenTx) error {
		return tx.LockPrincipal(ctx, 424242)
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	dbtest.Exec(t, pool, `UPDATE refresh_tokens SET expires_at = NOW() - INTERVAL '1 minute' WHERE token = 'dup'`)
	purged, err := store.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestIntegrationConcurrentRedemption(t *testing.T) {
	pool := dbtest.Start(t)
	ctx := context.Background()

	roleID := dbtest.InsertID(t, pool, `INSERT INTO roles (name) VALUES ('User') RETURNING id`)
	id := dbtest.InsertID(t, pool, `INSERT INTO users (email, password_hash, role_id) VALUES ('user@example.com', $1, $2) RETURNING id`,
		hashPassword(t, testPassword), roleID)

	store := NewStore(pool)
	svc := NewService(users.NewRepository(pool), testIssuer(t), store)

	login, err := svc.Login(ctx, "user@example.com", testPassword)
	require.NoError(t, err)
	again, err := svc.Login(ctx, "user@example.com", testPassword)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		denials int
		start   = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Refresh(ctx, again.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, shared.ErrUnauthenticated):
				denials++
			default:
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, denials)
	active, err := store.CountActive(ctx, id, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	svc.Logout(ctx, id)
	active, err = store.CountActive(ctx, id, time.Now())
	require.NoError(t, err)
	assert.Zero(t, active)
}
