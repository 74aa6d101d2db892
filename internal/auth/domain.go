package auth

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// Directory resolves principals. *users.Repository satisfies it.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*users.Principal, error)
	FindByID(ctx context.Context, id int64) (*users.Principal, error)
}

// PublicPrincipal is the client-safe projection of a principal.
type PublicPrincipal struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

// Project strips everything a client must not see from p.
func Project(p *users.Principal) PublicPrincipal {
	return PublicPrincipal{
		ID:        p.ID,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Role:      p.RoleName(),
	}
}

// AccessToken is a signed bearer value with its expiry.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// Session is the result of a login or a refresh.
type Session struct {
	AccessToken     string          `json:"accessToken"`
	AccessExpiresAt time.Time       `json:"accessExpiresAt"`
	RefreshToken    string          `json:"refreshToken"`
	Principal       PublicPrincipal `json:"principal"`
}

// RefreshToken is a persisted refresh-token row.
type RefreshToken struct {
	ID          int64
	Token       string
	PrincipalID int64
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired reports whether the row is no longer redeemable at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
