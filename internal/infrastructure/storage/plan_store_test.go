package storage

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/domain/repository"
	"github.com/flowmint/planengine/migrations"
)

func setupPlanStoreTest(t *testing.T) (*PlanStore, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "planengine_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections"),
	}

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/planengine_test?sslmode=disable", host, port.Port())
	time.Sleep(500 * time.Millisecond)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New(), bun.WithDiscardUnknownColumns())

	migrator, err := NewMigrator(db, migrations.FS)
	require.NoError(t, err)
	require.NoError(t, migrator.Init(ctx))
	require.NoError(t, migrator.Up(ctx))

	store := NewPlanStore(db)
	cleanup := func() {
		db.Close()
		_ = pg.Terminate(ctx)
	}
	return store, cleanup
}

func testPlan() *domain.Plan {
	p := domain.NewPlan("ingest", "wf-transcode", 10)
	p.Jobs = []domain.Job{
		{Index: 0, ExecutionGroup: 1, Activity: domain.Activity{Name: "extract"}},
		{Index: 1, ExecutionGroup: 2, Activity: domain.Activity{Name: "publish"}},
	}
	p.Active = map[int]bool{0: true}
	return p
}

func TestPlanStore_PutGetRoundTrip(t *testing.T) {
	store, cleanup := setupPlanStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	plan := testPlan()
	err := store.RunInTx(ctx, func(ctx context.Context, txn repository.Tx) error {
		return store.Put(ctx, txn, plan, false)
	})
	require.NoError(t, err)

	got, ok, err := store.Get(ctx, plan.PlanID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, plan.WorkflowID, got.WorkflowID)
	assert.Equal(t, plan.Jobs[0].Activity.Name, got.Jobs[0].Activity.Name)
	assert.Equal(t, plan.Active, got.Active)
}

func TestPlanStore_GetForUpdate_NotFound(t *testing.T) {
	store, cleanup := setupPlanStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	err := store.RunInTx(ctx, func(ctx context.Context, txn repository.Tx) error {
		_, err := store.GetForUpdate(ctx, txn, uuid.New())
		return err
	})
	require.Error(t, err)
	var nfe *domain.NotFoundError
	assert.ErrorAs(t, err, &nfe)
}

func TestPlanStore_Put_RegistersMetadataIndex(t *testing.T) {
	store, cleanup := setupPlanStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	plan := testPlan()
	plan.Binding = domain.ContentBinding{Kind: domain.BindingMetadata, MetadataID: "meta-1"}

	err := store.RunInTx(ctx, func(ctx context.Context, txn repository.Tx) error {
		return store.Put(ctx, txn, plan, true)
	})
	require.NoError(t, err)

	// Re-registering the same plan/metadata pair is idempotent, not an error.
	err = store.RunInTx(ctx, func(ctx context.Context, txn repository.Tx) error {
		return store.Put(ctx, txn, plan, true)
	})
	require.NoError(t, err)

	found, err := store.List(ctx, repository.ListFilter{MetadataID: "meta-1"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, plan.PlanID, found[0].PlanID)
}

func TestPlanStore_ListFailedJobIDs(t *testing.T) {
	store, cleanup := setupPlanStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	plan := testPlan()
	plan.FailedSet = map[int]bool{1: true}

	err := store.RunInTx(ctx, func(ctx context.Context, txn repository.Tx) error {
		return store.Put(ctx, txn, plan, false)
	})
	require.NoError(t, err)

	ids, err := store.ListFailedJobIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, plan.JobID(1), ids[0])
}

func TestPlanStore_ListQueues(t *testing.T) {
	store, cleanup := setupPlanStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	for _, q := range []string{"ingest", "publish", "ingest"} {
		plan := domain.NewPlan(q, "wf", 5)
		err := store.RunInTx(ctx, func(ctx context.Context, txn repository.Tx) error {
			return store.Put(ctx, txn, plan, false)
		})
		require.NoError(t, err)
	}

	queues, err := store.ListQueues(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ingest", "publish"}, queues)
}
