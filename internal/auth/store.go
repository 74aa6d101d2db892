package auth

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// ErrRefreshCollision is returned when both rotation attempts hit an existing
// token value. It is an internal failure, not a client error.
var ErrRefreshCollision = errors.New("auth: refresh token collision after retry")

// RefreshTokenStore persists refresh tokens. Every mutation runs inside WithTx.
type RefreshTokenStore interface {
	// WithTx runs fn in one transaction. A non-nil error from fn rolls back
	// everything fn did.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx RefreshTokenTx) error) error
	// PurgeExpired deletes rows with expires_at <= now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	// CountActive counts rows of principalID with expires_at > now.
	CountActive(ctx context.Context, principalID int64, now time.Time) (int, error)
}

// RefreshTokenTx is the transactional view of the store.
type RefreshTokenTx interface {
	// LockPrincipal holds the principal's row lock until the transaction
	// ends. Every mutation of a principal's tokens takes it first. Returns
	// shared.ErrNotFound for an unknown principal.
	LockPrincipal(ctx context.Context, principalID int64) error
	// FindPrincipal resolves a principal through the transaction's connection.
	FindPrincipal(ctx context.Context, principalID int64) (*users.Principal, error)
	// FindByToken returns shared.ErrNotFound when no row matches exactly.
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)
	DeleteByID(ctx context.Context, id int64) (int64, error)
	DeleteByPrincipal(ctx context.Context, principalID int64) (int64, error)
	// Insert returns shared.ErrConflict on a duplicate token value and leaves
	// the transaction usable.
	Insert(ctx context.Context, token RefreshToken) (*RefreshToken, error)
}
