package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docqa/internal/store"
	"github.com/fyrsmithlabs/docqa/internal/store/storetest"
)

// startPostgres runs a throwaway pgvector container and returns its DSN.
// The test is skipped when Docker is unreachable.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	pool.MaxWait = 90 * time.Second

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=docqa",
			"POSTGRES_PASSWORD=docqa",
			"POSTGRES_DB=docqa",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })
	_ = resource.Expire(300)

	dsn := fmt.Sprintf("postgres://docqa:docqa@%s/docqa?sslmode=disable", resource.GetHostPort("5432/tcp"))
	err = pool.Retry(func() error {
		s, err := Open(context.Background(), dsn)
		if err != nil {
			return err
		}
		return s.Close()
	})
	require.NoError(t, err)
	return dsn
}

func TestStore(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(ctx, dsn)
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, "TRUNCATE users, tokens, documents, chunks RESTART IDENTITY CASCADE")
		require.NoError(t, err)
		return s
	})
}
