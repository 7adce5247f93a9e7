package rest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmint/planengine/internal/application/coordinator"
	"github.com/flowmint/planengine/internal/application/dispatch"
	"github.com/flowmint/planengine/internal/application/observer"
	"github.com/flowmint/planengine/internal/application/planbuilder"
	"github.com/flowmint/planengine/internal/application/planengine"
	"github.com/flowmint/planengine/internal/config"
	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/domain/repository"
	"github.com/flowmint/planengine/internal/infrastructure/logger"
	"github.com/flowmint/planengine/internal/infrastructure/queueindex"
	"github.com/flowmint/planengine/internal/infrastructure/storage"
	"github.com/flowmint/planengine/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDefs struct {
	byID map[string]*repository.WorkflowDefinition
	acts map[string][]repository.ActivityDefinition
}

func (f *fakeDefs) Get(ctx context.Context, id string) (*repository.WorkflowDefinition, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

func (f *fakeDefs) ActivitiesOf(ctx context.Context, workflowID string) ([]repository.ActivityDefinition, error) {
	return f.acts[workflowID], nil
}

func (f *fakeDefs) WorkflowsOfTrait(ctx context.Context, traitID string) ([]*repository.WorkflowDefinition, error) {
	return nil, nil
}

func newFakeDefs() *fakeDefs {
	return &fakeDefs{
		byID: map[string]*repository.WorkflowDefinition{
			"wf-transcode": {ID: "wf-transcode"},
		},
		acts: map[string][]repository.ActivityDefinition{
			"wf-transcode": {
				{ActivityID: "a1", Name: "extract", ExecutionGroup: 1},
				{ActivityID: "a2", Name: "publish", ExecutionGroup: 2},
			},
		},
	}
}

type testHarness struct {
	router  *gin.Engine
	store   *storage.MemoryPlanStore
	engine  *planengine.Engine
	disp    *dispatch.Dispatcher
	builder *planbuilder.Builder
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ix := queueindex.NewWithClient(client)
	store := storage.NewMemoryPlanStore()
	log := logger.New(config.LoggingConfig{Level: "error", Format: "text"})
	coord := coordinator.New(store, ix, log)
	notifier := observer.NewManager(log)
	disp := dispatch.New(store, ix, log)
	eng := planengine.New(coord, store, ix, notifier, log, 30*time.Minute)
	builder := planbuilder.New(newFakeDefs(), 10)

	enqueueHandlers := NewEnqueueHandlers(builder, eng, store, log, 10*time.Millisecond)
	workerHandlers := NewWorkerHandlers(disp, eng, builder, log)
	router := NewRouter(log, enqueueHandlers, workerHandlers)

	return &testHarness{router: router, store: store, engine: eng, disp: disp, builder: builder}
}

func TestHandleEnqueue_BuildsAndDispatchesPlan(t *testing.T) {
	h := newTestHarness(t)

	body := map[string]interface{}{
		"workflow_id": "wf-transcode",
		"queue":       "ingest",
		"metadata_id": "md-1",
	}
	w := testutil.MakeRequest(t, h.router, http.MethodPost, "/v1/plans", body)

	require.Equal(t, http.StatusAccepted, w.Code)

	var envelope struct {
		Data []domain.Plan `json:"data"`
	}
	testutil.ParseResponse(t, w, &envelope)
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "wf-transcode", envelope.Data[0].WorkflowID)
	assert.Len(t, envelope.Data[0].Jobs, 2)

	job, jobID, err := h.disp.Dequeue(context.Background(), "ingest")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, envelope.Data[0].PlanID, jobID.PlanID)
}

func TestHandleEnqueue_MissingQueueFailsValidation(t *testing.T) {
	h := newTestHarness(t)

	body := map[string]interface{}{"workflow_id": "wf-transcode"}
	w := testutil.MakeRequest(t, h.router, http.MethodPost, "/v1/plans", body)

	testutil.AssertErrorResponse(t, w, http.StatusBadRequest, "queue")
}

func TestHandleEnqueue_UnknownWorkflowReturnsNotFound(t *testing.T) {
	h := newTestHarness(t)

	body := map[string]interface{}{"workflow_id": "missing", "queue": "ingest"}
	w := testutil.MakeRequest(t, h.router, http.MethodPost, "/v1/plans", body)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetPlan_ReturnsPersistedPlan(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	plan := domain.NewPlan("ingest", "wf-transcode", 1)
	plan.Jobs = []domain.Job{{Index: 0, ExecutionGroup: 1}}
	plan.Active = map[int]bool{0: true}
	require.NoError(t, h.store.RunInTx(ctx, func(ctx context.Context, txn repository.Tx) error {
		return h.store.Put(ctx, txn, plan, true)
	}))

	w := testutil.MakeRequest(t, h.router, http.MethodGet, "/v1/plans/"+plan.PlanID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data domain.Plan `json:"data"`
	}
	testutil.ParseResponse(t, w, &envelope)
	assert.Equal(t, plan.PlanID, envelope.Data.PlanID)
}

func TestHandleGetPlan_UnknownIDReturnsNotFound(t *testing.T) {
	h := newTestHarness(t)

	w := testutil.MakeRequest(t, h.router, http.MethodGet, "/v1/plans/"+domain.NewPlan("ingest", "wf", 1).PlanID.String(), nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetPlan_InvalidIDReturnsBadRequest(t *testing.T) {
	h := newTestHarness(t)

	w := testutil.MakeRequest(t, h.router, http.MethodGet, "/v1/plans/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRetryFailed_ReportsCount(t *testing.T) {
	h := newTestHarness(t)

	w := testutil.MakeRequest(t, h.router, http.MethodPost, "/v1/operator/retry-failed", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data struct {
			Retried int `json:"retried"`
		} `json:"data"`
	}
	testutil.ParseResponse(t, w, &envelope)
	assert.Equal(t, 0, envelope.Data.Retried)
}
