package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// PGStore implements RefreshTokenStore using PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PostgreSQL refresh-token store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// WithTx runs fn in a READ COMMITTED transaction. Each statement sees rows
// committed before it started, so a redeemer that waited on the principal
// lock re-reads the winner's result instead of failing serialization.
func (s *PGStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx RefreshTokenTx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	return db.WithTxOptions(ctx, s.pool, opts, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, directory: users.NewRepository(tx)})
	})
}

// PurgeExpired deletes every expired row.
func (s *PGStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "auth: purge expired"
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected(), nil
}

// CountActive counts non-expired rows of a principal.
func (s *PGStore) CountActive(ctx context.Context, principalID int64, now time.Time) (int, error) {
	const op = "auth: count active"
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1 AND expires_at > $2`, principalID, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

type pgTx struct {
	tx        pgx.Tx
	directory *users.Repository
}

func (t *pgTx) LockPrincipal(ctx context.Context, principalID int64) error {
	const op = "auth: lock principal"
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, principalID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *pgTx) FindPrincipal(ctx context.Context, principalID int64) (*users.Principal, error) {
	return t.directory.FindByID(ctx, principalID)
}

func (t *pgTx) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	const op = "auth: find refresh token"
	var rt RefreshToken
	err := t.tx.QueryRow(ctx, `SELECT id, token, user_id, expires_at, created_at FROM refresh_tokens WHERE token = $1`, token).
		Scan(&rt.ID, &rt.Token, &rt.PrincipalID, &rt.ExpiresAt, &rt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &rt, nil
}

func (t *pgTx) DeleteByID(ctx context.Context, id int64) (int64, error) {
	const op = "auth: delete refresh token"
	tag, err := t.tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) DeleteByPrincipal(ctx context.Context, principalID int64) (int64, error) {
	const op = "auth: delete principal refresh tokens"
	tag, err := t.tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, principalID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected(), nil
}

// Insert runs inside a savepoint: a unique violation aborts only the
// savepoint, so the caller can retry in the same transaction.
func (t *pgTx) Insert(ctx context.Context, token RefreshToken) (*RefreshToken, error) {
	const op = "auth: insert refresh token"
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: savepoint: %w", op, err)
	}
	defer func() { _ = sp.Rollback(ctx) }()

	out := token
	err = sp.QueryRow(ctx, `INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES ($1, $2, $3) RETURNING id, created_at`,
		token.Token, token.PrincipalID, token.ExpiresAt).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, shared.ErrConflict
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := sp.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: release savepoint: %w", op, err)
	}
	return &out, nil
}

var (
	_ RefreshTokenStore = (*PGStore)(nil)
	_ RefreshTokenTx    = (*pgTx)(nil)
)
