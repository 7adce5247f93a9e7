package models

import (
	"time"

	"github.com/uptrace/bun"
)

// WorkflowDefinitionModel is the workflow_definitions row: the read-only
// catalog entry the Plan Builder resolves an EnqueueRequest.WorkflowID
// against. Definition CRUD is out of scope (spec.md §1 non-goal); this is
// the thin read surface the Plan Engine domain depends on, grounded in the
// teacher's WorkflowModel (internal/infrastructure/storage/models/workflow_model.go)
// trimmed to what repository.WorkflowDefinition needs.
type WorkflowDefinitionModel struct {
	bun.BaseModel `bun:"table:workflow_definitions,alias:wd"`

	WorkflowID       string      `bun:"workflow_id,pk"`
	TraitID          string      `bun:"trait_id"`
	Inputs           JSONBMap    `bun:"inputs,type:jsonb"`
	Outputs          JSONBMap    `bun:"outputs,type:jsonb"`
	StorageSystemIDs StringArray `bun:"storage_system_ids,type:text[]"`
	CreatedAt        time.Time   `bun:"created_at,notnull,default:current_timestamp"`
}

func (WorkflowDefinitionModel) TableName() string { return "workflow_definitions" }

// WorkflowActivityModel is a workflow_activities row: one activity within a
// workflow definition, ordered by (execution_group, ordinal) per spec.md
// §4.4 step 2. Grounded in the teacher's NodeModel, trimmed to activity
// shape (no visual position, no node-graph edges — plans are flat,
// execution-group-ordered lists, not DAGs).
type WorkflowActivityModel struct {
	bun.BaseModel `bun:"table:workflow_activities,alias:wa"`

	ActivityID      string      `bun:"activity_id,pk"`
	WorkflowID      string      `bun:"workflow_id,pk"`
	Name            string      `bun:"name,notnull"`
	ChildWorkflowID string      `bun:"child_workflow_id"`
	ExecutionGroup  int         `bun:"execution_group,notnull"`
	Ordinal         int         `bun:"ordinal,notnull"`
	Configuration   JSONBMap    `bun:"configuration,type:jsonb"`
	Inputs          JSONBMap    `bun:"inputs,type:jsonb"`
	Outputs         JSONBMap    `bun:"outputs,type:jsonb"`
	Models          StringArray `bun:"models,type:text[]"`
	Prompts         StringArray `bun:"prompts,type:text[]"`
	StorageSystems  StringArray `bun:"storage_systems,type:text[]"`
}

func (WorkflowActivityModel) TableName() string { return "workflow_activities" }
