//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/flowmint/planengine/internal/infrastructure/storage"
	"github.com/flowmint/planengine/migrations"
)

// TestDB encapsulates a test database with cleanup.
type TestDB struct {
	DB        *bun.DB
	container testcontainers.Container
}

// SetupTestDB starts a PostgreSQL 16 container via testcontainers-go, connects
// to it with Bun, and runs the embedded migrations against it.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "planengine_test",
			"POSTGRES_PASSWORD": "planengine_test",
			"POSTGRES_DB":       "planengine_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://planengine_test:planengine_test@%s:%s/planengine_test?sslmode=disable",
		host, port.Port())

	// give the container a moment beyond the log-wait before accepting connections
	time.Sleep(500 * time.Millisecond)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New(), bun.WithDiscardUnknownColumns())

	require.NoError(t, db.PingContext(ctx), "failed to connect to test postgres")

	migrator, err := storage.NewMigrator(db, migrations.FS)
	require.NoError(t, err, "failed to create migrator")
	require.NoError(t, migrator.Init(ctx), "failed to initialize migrator")
	require.NoError(t, migrator.Up(ctx), "failed to run migrations")

	testDB := &TestDB{DB: db, container: container}
	t.Cleanup(func() { testDB.Cleanup(t) })

	return testDB
}

// Cleanup tears down the test database and its container.
func (td *TestDB) Cleanup(t *testing.T) {
	t.Helper()

	if td.DB != nil {
		td.DB.Close()
	}
	if td.container != nil {
		if err := td.container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
}

// Reset truncates all domain tables, leaving the schema and migration
// bookkeeping intact, so a single container can be reused across tests.
func (td *TestDB) Reset(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	tables := []string{
		"workflow_activities",
		"workflow_definitions",
		"metadata_workflow_plans",
		"collection_workflow_plans",
		"workflow_plans",
	}

	for _, table := range tables {
		if _, err := td.DB.NewTruncateTable().Table(table).Cascade().Exec(ctx); err != nil {
			t.Logf("warning: failed to truncate table %s: %v", table, err)
		}
	}
}
