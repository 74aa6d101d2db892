package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

func TestVerifierStripsPasswordHash(t *testing.T) {
	v := NewVerifier(newMemDirectory(testPrincipals(t)...))

	p, err := v.Verify(context.Background(), "admin@example.com", testPassword)
	require.NoError(t, err)
	assert.Empty(t, p.PasswordHash)
	assert.Equal(t, shared.RoleAdmin, p.RoleName())
}

func TestVerifierRejectsCorruptHash(t *testing.T) {
	ps := testPrincipals(t)
	ps[0].PasswordHash = "not-a-bcrypt-hash"
	v := NewVerifier(newMemDirectory(ps...))

	_, err := v.Verify(context.Background(), "admin@example.com", testPassword)
	require.Equal(t, shared.ErrInvalidCredentials, err)
}

func TestVerifierPropagatesDirectoryFailure(t *testing.T) {
	dir := newMemDirectory()
	dir.err = errors.New("too many connections")

	_, err := NewVerifier(dir).Verify(context.Background(), "admin@example.com", testPassword)
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestTimingHashIsValidBcrypt(t *testing.T) {
	require.NotEmpty(t, timingHash())
	assert.Equal(t, timingHash(), timingHash())
}
