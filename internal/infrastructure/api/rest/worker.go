package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flowmint/planengine/internal/application/dispatch"
	"github.com/flowmint/planengine/internal/application/planbuilder"
	"github.com/flowmint/planengine/internal/application/planengine"
	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/infrastructure/logger"
)

// WorkerHandlers serves the worker-facing surface: pull a job off a queue,
// then report its progress back against that job's fully-qualified id.
type WorkerHandlers struct {
	dispatcher *dispatch.Dispatcher
	engine     *planengine.Engine
	builder    *planbuilder.Builder
	log        *logger.Logger
}

// NewWorkerHandlers constructs a WorkerHandlers.
func NewWorkerHandlers(dispatcher *dispatch.Dispatcher, engine *planengine.Engine, builder *planbuilder.Builder, log *logger.Logger) *WorkerHandlers {
	return &WorkerHandlers{dispatcher: dispatcher, engine: engine, builder: builder, log: log}
}

type dequeueResponse struct {
	JobID string      `json:"job_id"`
	Job   *domain.Job `json:"job"`
}

// HandleDequeue handles POST /v1/queues/:queue/dequeue.
func (h *WorkerHandlers) HandleDequeue(c *gin.Context) {
	queue, ok := getParam(c, "queue")
	if !ok {
		return
	}

	job, jobID, err := h.dispatcher.Dequeue(c.Request.Context(), queue)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	if job == nil {
		c.Status(http.StatusNoContent)
		return
	}

	respondJSON(c, http.StatusOK, dequeueResponse{JobID: encodeJobID(jobID), Job: job})
}

// encodeJobID packs a JobID into the "<plan_id>:<index>" token used as the
// :id path parameter; the queue travels separately as a query parameter
// since it is already known to the caller from the dequeue response.
func encodeJobID(id domain.JobID) string {
	return id.PlanID.String() + ":" + strconv.Itoa(id.Index)
}

func (h *WorkerHandlers) parseJobID(c *gin.Context) (domain.JobID, bool) {
	idParam, ok := getParam(c, "id")
	if !ok {
		return domain.JobID{}, false
	}
	queue := c.Query("queue")
	if queue == "" {
		respondAPIError(c, NewAPIError("MISSING_PARAMETER", "queue query parameter is required", http.StatusBadRequest))
		return domain.JobID{}, false
	}

	sepAt := strings.LastIndexByte(idParam, ':')
	if sepAt < 0 {
		respondAPIError(c, ErrInvalidID)
		return domain.JobID{}, false
	}
	planID, err := uuid.Parse(idParam[:sepAt])
	if err != nil {
		respondAPIError(c, ErrInvalidID)
		return domain.JobID{}, false
	}
	index, err := strconv.Atoi(idParam[sepAt+1:])
	if err != nil {
		respondAPIError(c, ErrInvalidID)
		return domain.JobID{}, false
	}

	return domain.JobID{Queue: queue, PlanID: planID, Index: index}, true
}

// HandleHeartbeat handles POST /v1/jobs/:id/heartbeat.
func (h *WorkerHandlers) HandleHeartbeat(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}
	if err := h.engine.Heartbeat(c.Request.Context(), jobID); err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleComplete handles POST /v1/jobs/:id/complete.
func (h *WorkerHandlers) HandleComplete(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}
	if err := h.engine.Complete(c.Request.Context(), jobID); err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type failRequestWire struct {
	Error    string `json:"error"`
	TryAgain bool   `json:"try_again"`
}

// HandleFail handles POST /v1/jobs/:id/fail.
func (h *WorkerHandlers) HandleFail(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}
	var wire failRequestWire
	if err := bindJSON(c, &wire); err != nil {
		return
	}
	if err := h.engine.Fail(c.Request.Context(), jobID, wire.Error, wire.TryAgain); err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type delayRequestWire struct {
	Until time.Time `json:"until" binding:"required"`
}

// HandleDelay handles POST /v1/jobs/:id/delay.
func (h *WorkerHandlers) HandleDelay(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}
	var wire delayRequestWire
	if err := bindJSON(c, &wire); err != nil {
		return
	}
	if err := h.engine.Delay(c.Request.Context(), jobID, wire.Until); err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type contextRequestWire struct {
	Context map[string]any `json:"context"`
}

// HandleSetContext handles POST /v1/jobs/:id/context.
func (h *WorkerHandlers) HandleSetContext(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}
	var wire contextRequestWire
	if err := bindJSON(c, &wire); err != nil {
		return
	}
	if err := h.engine.SetJobContext(c.Request.Context(), jobID, wire.Context); err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type childrenRequestWire struct {
	Requests []enqueueRequestWire `json:"requests" binding:"required,min=1"`
}

type childrenResponse struct {
	ChildPlanIDs []uuid.UUID `json:"child_plan_ids"`
}

// HandleSpawnChildren handles POST /v1/jobs/:id/children: build each
// requested child workflow and hand them to EnqueueChildWorkflows, which
// persists and enqueues every child durably before linking it to the
// parent job.
func (h *WorkerHandlers) HandleSpawnChildren(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}
	var wire childrenRequestWire
	if err := bindJSON(c, &wire); err != nil {
		return
	}

	var children []*domain.Plan
	for _, reqWire := range wire.Requests {
		req := reqWire.toRequest()
		built, err := h.builder.Build(c.Request.Context(), req)
		if err != nil {
			respondAPIErrorWithRequestID(c, err)
			return
		}
		children = append(children, built...)
	}

	ids, err := h.engine.EnqueueChildWorkflows(c.Request.Context(), jobID, children)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, childrenResponse{ChildPlanIDs: ids})
}
