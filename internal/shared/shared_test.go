package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "j***@example.com", RedactEmail("jane.doe@example.com"))
	assert.Equal(t, "***", RedactEmail("@example.com"))
	assert.Equal(t, "***", RedactEmail("not-an-email"))
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	require.False(t, ok)

	ctx := ContextWithPrincipal(context.Background(), Principal{ID: 7, Email: "a@b.c", Role: RoleAdmin})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, RoleAdmin, p.Role)
}

func TestAuditLogValidate(t *testing.T) {
	require.Error(t, AuditLog{Action: AuditLogin}.validate())
	require.NoError(t, AuditLog{Action: AuditLogin, Entity: "user", EntityID: "1"}.validate())

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{Action: AuditLogin, Entity: "user", EntityID: "1"}))
}
