package planbuilder

import (
	"context"
	"sort"

	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/domain/repository"
)

// Builder constructs plans from EnqueueRequests against the
// WorkflowDefinitions collaborator (spec §4.4, §6).
type Builder struct {
	defs               repository.WorkflowDefinitions
	defaultMaxFailures int
}

// New constructs a Builder. defaultMaxFailures seeds Plan.MaxFailures when
// the request does not specify one (spec §4.4 step 7: default 10).
func New(defs repository.WorkflowDefinitions, defaultMaxFailures int) *Builder {
	return &Builder{defs: defs, defaultMaxFailures: defaultMaxFailures}
}

// Build resolves req into one plan per matching workflow (more than one
// only when req.TraitID fans out across multiple workflows).
func (b *Builder) Build(ctx context.Context, req EnqueueRequest) ([]*domain.Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	workflowIDs, err := b.resolveWorkflows(ctx, req)
	if err != nil {
		return nil, err
	}

	plans := make([]*domain.Plan, 0, len(workflowIDs))
	for _, wid := range workflowIDs {
		plan, err := b.buildOne(ctx, req, wid)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func (b *Builder) resolveWorkflows(ctx context.Context, req EnqueueRequest) ([]string, error) {
	switch {
	case req.WorkflowID != "":
		if _, err := b.defs.Get(ctx, req.WorkflowID); err != nil {
			return nil, &domain.NotFoundError{Kind: "workflow", ID: req.WorkflowID}
		}
		return []string{req.WorkflowID}, nil

	case req.TraitID != "":
		defs, err := b.defs.WorkflowsOfTrait(ctx, req.TraitID)
		if err != nil {
			return nil, &domain.StoreError{Op: "workflows_of_trait", Err: err}
		}
		ids := make([]string, len(defs))
		for i, d := range defs {
			ids[i] = d.ID
		}
		return ids, nil

	default:
		// Embedded ad-hoc workflow: the caller carries its own definition
		// and there is nothing to resolve through the collaborator.
		return []string{""}, nil
	}
}

func (b *Builder) buildOne(ctx context.Context, req EnqueueRequest, workflowID string) (*domain.Plan, error) {
	maxFailures := req.MaxFailures
	if maxFailures == 0 {
		maxFailures = b.defaultMaxFailures
	}

	plan := domain.NewPlan(req.Queue, workflowID, maxFailures)
	plan.Binding = req.Binding
	plan.DelayUntil = req.DelayUntil

	var activities []repository.ActivityDefinition
	if workflowID != "" {
		defs, err := b.defs.ActivitiesOf(ctx, workflowID)
		if err != nil {
			return nil, &domain.StoreError{Op: "activities_of", Err: err}
		}
		activities = defs
	} else if req.Workflow != nil {
		activities = []repository.ActivityDefinition{{
			Name:    req.Workflow.Name,
			Inputs:  req.Workflow.Inputs,
			Outputs: req.Workflow.Outputs,
		}}
	}

	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].ExecutionGroup < activities[j].ExecutionGroup
	})

	jobs := make([]domain.Job, len(activities))
	for i, a := range activities {
		storageSystems := append([]string(nil), a.StorageSystems...)
		storageSystems = append(storageSystems, req.StorageSystemIDs...)

		jobs[i] = domain.Job{
			Index: i,
			Activity: domain.Activity{
				Name:            a.Name,
				ChildWorkflowID: a.ChildWorkflowID,
				Inputs:          a.Inputs,
				Outputs:         a.Outputs,
			},
			ExecutionGroup: a.ExecutionGroup,
			ActivityConfig: mergeConfig(a.Configuration, req.overrideFor(a.ActivityID)),
			Models:         a.Models,
			Prompts:        a.Prompts,
			StorageSystems: storageSystems,
		}
	}
	plan.Jobs = jobs

	for i, j := range jobs {
		if j.ExecutionGroup == 1 {
			plan.Active[i] = true
		}
	}

	return plan, nil
}

// mergeConfig implements spec §4.4 step 3: nil base is replaced wholesale;
// otherwise override keys shallow-merge on top of base.
func mergeConfig(base, override map[string]any) map[string]any {
	if base == nil {
		return override
	}
	if override == nil {
		return base
	}
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
