package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/domain/repository"
	"github.com/flowmint/planengine/internal/infrastructure/storage/models"
)

var _ repository.WorkflowDefinitions = (*WorkflowDefinitionStore)(nil)

// WorkflowDefinitionStore implements repository.WorkflowDefinitions using
// Bun, grounded in the teacher's WorkflowRepository.FindByID/FindByName
// read paths (internal/infrastructure/storage/workflow_repository.go), cut
// down to the read-only lookups the Plan Builder needs — catalog CRUD is an
// out-of-scope external collaborator (spec.md §1 non-goal).
type WorkflowDefinitionStore struct {
	db *bun.DB
}

// NewWorkflowDefinitionStore constructs a WorkflowDefinitionStore.
func NewWorkflowDefinitionStore(db *bun.DB) *WorkflowDefinitionStore {
	return &WorkflowDefinitionStore{db: db}
}

// Get retrieves a workflow definition by id. A missing workflow yields a
// *domain.NotFoundError.
func (s *WorkflowDefinitionStore) Get(ctx context.Context, workflowID string) (*repository.WorkflowDefinition, error) {
	m := &models.WorkflowDefinitionModel{}
	err := s.db.NewSelect().Model(m).Where("workflow_id = ?", workflowID).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "workflow", ID: workflowID}
		}
		return nil, fmt.Errorf("failed to load workflow definition %s: %w", workflowID, err)
	}
	return &repository.WorkflowDefinition{
		ID:               m.WorkflowID,
		Inputs:           m.Inputs,
		Outputs:          m.Outputs,
		StorageSystemIDs: m.StorageSystemIDs,
	}, nil
}

// ActivitiesOf returns a workflow's activities ordered by execution group
// ascending then declaration order, per spec.md §4.4 step 2.
func (s *WorkflowDefinitionStore) ActivitiesOf(ctx context.Context, workflowID string) ([]repository.ActivityDefinition, error) {
	var rows []*models.WorkflowActivityModel
	err := s.db.NewSelect().
		Model(&rows).
		Where("workflow_id = ?", workflowID).
		Order("execution_group ASC", "ordinal ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load activities for workflow %s: %w", workflowID, err)
	}

	out := make([]repository.ActivityDefinition, len(rows))
	for i, r := range rows {
		out[i] = repository.ActivityDefinition{
			ActivityID:      r.ActivityID,
			Name:            r.Name,
			ChildWorkflowID: r.ChildWorkflowID,
			ExecutionGroup:  r.ExecutionGroup,
			Configuration:   r.Configuration,
			Inputs:          r.Inputs,
			Outputs:         r.Outputs,
			Models:          r.Models,
			Prompts:         r.Prompts,
			StorageSystems:  r.StorageSystems,
		}
	}
	return out, nil
}

// WorkflowsOfTrait returns every workflow definition registered against a
// trait, for fan-out enqueue (spec.md §4.4 step 1's trait_id branch).
func (s *WorkflowDefinitionStore) WorkflowsOfTrait(ctx context.Context, traitID string) ([]*repository.WorkflowDefinition, error) {
	var rows []*models.WorkflowDefinitionModel
	err := s.db.NewSelect().Model(&rows).Where("trait_id = ?", traitID).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows for trait %s: %w", traitID, err)
	}

	out := make([]*repository.WorkflowDefinition, len(rows))
	for i, m := range rows {
		out[i] = &repository.WorkflowDefinition{
			ID:               m.WorkflowID,
			Inputs:           m.Inputs,
			Outputs:          m.Outputs,
			StorageSystemIDs: m.StorageSystemIDs,
		}
	}
	return out, nil
}
