package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmint/planengine/internal/config"
	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/domain/repository"
	"github.com/flowmint/planengine/internal/infrastructure/logger"
	"github.com/flowmint/planengine/internal/infrastructure/queueindex"
	"github.com/flowmint/planengine/internal/infrastructure/storage"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *storage.MemoryPlanStore, *queueindex.Index) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	ix := queueindex.NewWithClient(client)
	store := storage.NewMemoryPlanStore()
	log := logger.New(config.LoggingConfig{Level: "error", Format: "text"})
	return New(store, ix, log), store, ix
}

func putPlan(t *testing.T, store *storage.MemoryPlanStore, plan *domain.Plan) {
	t.Helper()
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, txn repository.Tx) error {
		return store.Put(ctx, txn, plan, false)
	}))
}

func TestDispatcher_Dequeue_EmptyQueueReturnsNil(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	job, _, err := d.Dequeue(context.Background(), "ingest")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDispatcher_Dequeue_ReturnsSnapshotWithParent(t *testing.T) {
	d, store, ix := newTestDispatcher(t)
	ctx := context.Background()

	parent := domain.JobID{Queue: "ingest", PlanID: uuid.New(), Index: 0}
	plan := domain.NewPlan("ingest", "wf", 5)
	plan.Parent = &parent
	plan.Jobs = []domain.Job{{Index: 0, ExecutionGroup: 1}}
	putPlan(t, store, plan)

	jobID := plan.JobID(0)
	require.NoError(t, ix.PushPending(ctx, jobID.Queue, queueindex.JobToken(jobID)))

	job, _, err := d.Dequeue(ctx, "ingest")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, &parent, job.Parent)
}

func TestDispatcher_Dequeue_FinishedPlanCleansUp(t *testing.T) {
	d, store, ix := newTestDispatcher(t)
	ctx := context.Background()

	plan := domain.NewPlan("ingest", "wf", 5)
	plan.Jobs = []domain.Job{{Index: 0, ExecutionGroup: 1}}
	now := time.Now()
	plan.Finished = &now
	putPlan(t, store, plan)

	jobID := plan.JobID(0)
	require.NoError(t, ix.PushPending(ctx, jobID.Queue, queueindex.JobToken(jobID)))

	job, _, err := d.Dequeue(ctx, "ingest")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDispatcher_Dequeue_CompleteJobIsSkipped(t *testing.T) {
	d, store, ix := newTestDispatcher(t)
	ctx := context.Background()

	plan := domain.NewPlan("ingest", "wf", 5)
	plan.Jobs = []domain.Job{{Index: 0, ExecutionGroup: 1, Complete: true}}
	putPlan(t, store, plan)

	jobID := plan.JobID(0)
	require.NoError(t, ix.PushPending(ctx, jobID.Queue, queueindex.JobToken(jobID)))

	job, _, err := d.Dequeue(ctx, "ingest")
	require.NoError(t, err)
	assert.Nil(t, job)
}
