// Package testpg spins up an isolated Postgres schema per test, backed by a
// single shared testcontainer for local runs (or CI_DATABASE_URL in CI),
// mirroring how other Go services in this shop avoid one container per test.
package testpg

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/otterscale/autoscale/internal/platform"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// Pool starts (or reuses) a shared Postgres container, creates a fresh schema
// for t, runs every migration against it, and returns a pool scoped to that
// schema. The schema is dropped when t completes.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	base := sharedDatabaseURL(t)
	schema := schemaName(t)

	admin, err := pgxpool.New(ctx, base)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	if _, err := admin.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema)); err != nil {
		admin.Close()
		t.Fatalf("creating test schema %s: %v", schema, err)
	}
	admin.Close()

	scopedURL := withSearchPath(base, schema)
	if err := platform.RunMigrations(scopedURL, migrationsDir()); err != nil {
		t.Fatalf("running migrations against schema %s: %v", schema, err)
	}

	pool, err := pgxpool.New(ctx, scopedURL)
	if err != nil {
		t.Fatalf("opening pool against schema %s: %v", schema, err)
	}

	t.Cleanup(func() {
		dropCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := pool.Exec(dropCtx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("dropping test schema %s: %v", schema, err)
		}
		pool.Close()
	})

	return pool
}

func sharedDatabaseURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("CI_DATABASE_URL"); url != "" {
		return url
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		c, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("autoscale_test"),
			postgres.WithUsername("autoscale"),
			postgres.WithPassword("autoscale"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("starting postgres container: %w", err)
			return
		}
		connStr, err := c.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("getting connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})

	if containerErr != nil {
		t.Fatalf("shared postgres container: %v", containerErr)
	}
	return sharedConnStr
}

func schemaName(t *testing.T) string {
	t.Helper()
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		t.Fatalf("generating schema suffix: %v", err)
	}
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(suffix))
}

func withSearchPath(connStr, schema string) string {
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s", connStr, sep, schema)
}

func migrationsDir() string {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("testpg: runtime.Caller(0) failed")
	}
	root := filepath.Dir(filepath.Dir(filepath.Dir(thisFile))) // internal/testpg -> internal -> repo root
	return filepath.Join(root, "migrations")
}
