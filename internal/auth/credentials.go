package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// timingHash is compared against when there is no stored hash so that the
// response time does not reveal whether the account exists.
func timingHash() []byte {
	dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("odyssey-iam-timing-guard"), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("auth: dummy hash: %v", err))
		}
		dummyHash = h
	})
	return dummyHash
}

// Verifier checks email/password credentials.
type Verifier struct {
	directory Directory
}

// NewVerifier constructs a Verifier.
func NewVerifier(directory Directory) *Verifier {
	return &Verifier{directory: directory}
}

// Verify validates email/password credentials. Unknown principal, missing
// password, mismatch, inactive account and bcrypt failures all yield
// shared.ErrInvalidCredentials. The returned principal has no password hash.
func (v *Verifier) Verify(ctx context.Context, email, password string) (*users.Principal, error) {
	p, err := v.directory.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("auth: lookup principal: %w", err)
	}

	hash := timingHash()
	if p != nil && p.PasswordHash != "" {
		hash = []byte(p.PasswordHash)
	}
	cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(password))

	if p == nil || p.PasswordHash == "" || cmpErr != nil || !p.IsActive {
		return nil, shared.ErrInvalidCredentials
	}

	out := *p
	out.PasswordHash = ""
	return &out, nil
}
