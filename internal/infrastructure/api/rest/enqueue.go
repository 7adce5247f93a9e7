package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flowmint/planengine/internal/application/planbuilder"
	"github.com/flowmint/planengine/internal/application/planengine"
	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/domain/repository"
	"github.com/flowmint/planengine/internal/infrastructure/logger"
)

// EnqueueHandlers serves the caller-facing surface: submit plans, inspect
// them, cancel them, and trigger the operator retry-all-failed command.
type EnqueueHandlers struct {
	builder      *planbuilder.Builder
	engine       *planengine.Engine
	store        repository.PlanStore
	log          *logger.Logger
	pollInterval time.Duration
}

// NewEnqueueHandlers constructs an EnqueueHandlers. pollInterval governs
// the wait_for_completion poll loop (spec §5: fixed 1s).
func NewEnqueueHandlers(builder *planbuilder.Builder, engine *planengine.Engine, store repository.PlanStore, log *logger.Logger, pollInterval time.Duration) *EnqueueHandlers {
	return &EnqueueHandlers{builder: builder, engine: engine, store: store, log: log, pollInterval: pollInterval}
}

type configurationOverrideWire struct {
	ActivityID    string         `json:"activity_id" binding:"required"`
	Configuration map[string]any `json:"configuration"`
}

type enqueueRequestWire struct {
	WorkflowID             string                      `json:"workflow_id"`
	Workflow               *domain.Activity            `json:"workflow"`
	TraitID                string                      `json:"trait_id"`
	MetadataID             string                      `json:"metadata_id"`
	MetadataVersion        *int                        `json:"metadata_version"`
	CollectionID           string                      `json:"collection_id"`
	SupplementaryID        string                      `json:"supplementary_id"`
	StorageSystemIDs       []string                    `json:"storage_system_ids"`
	ConfigurationOverrides []configurationOverrideWire `json:"configuration_overrides"`
	DelayUntil             *time.Time                  `json:"delay_until"`
	WaitForCompletion      bool                        `json:"wait_for_completion"`
	Queue                  string                      `json:"queue" binding:"required"`
	MaxFailures            int                         `json:"max_failures"`
}

func (w enqueueRequestWire) toRequest() planbuilder.EnqueueRequest {
	overrides := make([]planbuilder.ConfigurationOverride, len(w.ConfigurationOverrides))
	for i, o := range w.ConfigurationOverrides {
		overrides[i] = planbuilder.ConfigurationOverride{ActivityID: o.ActivityID, Configuration: o.Configuration}
	}

	binding := domain.ContentBinding{}
	switch {
	case w.MetadataID != "":
		binding = domain.ContentBinding{Kind: domain.BindingMetadata, MetadataID: w.MetadataID, MetadataVersion: w.MetadataVersion}
	case w.CollectionID != "":
		binding = domain.ContentBinding{Kind: domain.BindingCollection, CollectionID: w.CollectionID}
	case w.SupplementaryID != "":
		binding = domain.ContentBinding{Kind: domain.BindingSupplementary, SupplementaryID: w.SupplementaryID}
	}

	return planbuilder.EnqueueRequest{
		WorkflowID:             w.WorkflowID,
		Workflow:               w.Workflow,
		TraitID:                w.TraitID,
		Binding:                binding,
		StorageSystemIDs:       w.StorageSystemIDs,
		ConfigurationOverrides: overrides,
		DelayUntil:             w.DelayUntil,
		WaitForCompletion:      w.WaitForCompletion,
		Queue:                  w.Queue,
		MaxFailures:            w.MaxFailures,
	}
}

// HandleEnqueue handles POST /v1/plans.
func (h *EnqueueHandlers) HandleEnqueue(c *gin.Context) {
	var wire enqueueRequestWire
	if err := bindJSON(c, &wire); err != nil {
		return
	}

	req := wire.toRequest()
	plans, err := h.builder.Build(c.Request.Context(), req)
	if err != nil {
		h.log.Error("failed to build plan", "error", err.Error(), "request_id", GetRequestID(c))
		respondAPIErrorWithRequestID(c, err)
		return
	}

	for _, plan := range plans {
		if err := h.engine.EnqueuePlan(c.Request.Context(), plan); err != nil {
			h.log.Error("failed to enqueue plan", "error", err.Error(), "plan_id", plan.PlanID, "request_id", GetRequestID(c))
			respondAPIErrorWithRequestID(c, err)
			return
		}
	}

	if req.WaitForCompletion {
		for i, plan := range plans {
			finished, err := h.waitForCompletion(c.Request.Context(), plan.PlanID)
			if err != nil {
				respondAPIErrorWithRequestID(c, err)
				return
			}
			plans[i] = finished
		}
	}

	respondJSON(c, http.StatusAccepted, plans)
}

// waitForCompletion polls the Plan Store at a fixed interval until the plan
// finishes or the request context is cancelled (spec §5).
func (h *EnqueueHandlers) waitForCompletion(ctx context.Context, planID uuid.UUID) (*domain.Plan, error) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		plan, ok, err := h.store.Get(ctx, planID)
		if err != nil {
			return nil, &domain.StoreError{Op: "wait_for_completion", Err: err}
		}
		if ok && plan.IsFinished() {
			return plan, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// HandleGetPlan handles GET /v1/plans/:id.
func (h *EnqueueHandlers) HandleGetPlan(c *gin.Context) {
	idStr, ok := getParam(c, "id")
	if !ok {
		return
	}
	planID, err := uuid.Parse(idStr)
	if err != nil {
		respondAPIError(c, ErrInvalidID)
		return
	}

	plan, found, err := h.store.Get(c.Request.Context(), planID)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	if !found {
		respondAPIError(c, ErrNotFoundAPI)
		return
	}
	respondJSON(c, http.StatusOK, plan)
}

type cancelRequestWire struct {
	PlanID          string `json:"plan_id"`
	WorkflowID      string `json:"workflow_id"`
	MetadataID      string `json:"metadata_id"`
	MetadataVersion *int   `json:"metadata_version"`
	CollectionID    string `json:"collection_id"`
}

// HandleCancel handles POST /v1/plans/cancel.
func (h *EnqueueHandlers) HandleCancel(c *gin.Context) {
	var wire cancelRequestWire
	if err := bindJSON(c, &wire); err != nil {
		return
	}

	filter := repository.ListFilter{
		WorkflowID:      wire.WorkflowID,
		MetadataID:      wire.MetadataID,
		MetadataVersion: wire.MetadataVersion,
		CollectionID:    wire.CollectionID,
	}
	if wire.PlanID != "" {
		planID, err := uuid.Parse(wire.PlanID)
		if err != nil {
			respondAPIError(c, ErrInvalidID)
			return
		}
		filter.PlanID = &planID
	}

	if err := h.engine.Cancel(c.Request.Context(), filter); err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleRetryFailed handles POST /v1/operator/retry-failed.
func (h *EnqueueHandlers) HandleRetryFailed(c *gin.Context) {
	n, err := h.engine.RetryAllFailed(c.Request.Context())
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"retried": n})
}
