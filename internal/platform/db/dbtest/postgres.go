// Package dbtest starts a disposable PostgreSQL for integration tests.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
)

// EnvIntegration enables the container-backed tests when set.
const EnvIntegration = "GO_TEST_INTEGRATION"

// Start runs postgres:16-alpine, applies the embedded migrations and returns
// a pool. The test is skipped unless GO_TEST_INTEGRATION is set.
//
//	GO_TEST_INTEGRATION=1 go test ./internal/... -run Integration -count=1
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv(EnvIntegration) == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "iam"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/iam?sslmode=disable", host, port.Port())

	// The port opens before the server accepts connections.
	var pool *pgxpool.Pool
	require.Eventually(t, func() bool {
		pool, err = db.New(ctx, dsn, 20)
		return err == nil
	}, 30*time.Second, 250*time.Millisecond)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool))
	return pool
}

// Exec runs a statement and fails the test on error.
func Exec(t *testing.T, pool *pgxpool.Pool, sql string, args ...any) {
	t.Helper()
	_, err := pool.Exec(context.Background(), sql, args...)
	require.NoError(t, err)
}

// InsertID runs an INSERT ... RETURNING id and returns the id.
func InsertID(t *testing.T, pool *pgxpool.Pool, sql string, args ...any) int64 {
	t.Helper()
	var id int64
	require.NoError(t, pool.QueryRow(context.Background(), sql, args...).Scan(&id))
	return id
}
