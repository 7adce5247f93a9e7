// Package repository defines the collaborator interfaces the Plan Engine and
// its neighbors consume: the durable Plan Store, the workflow-definition
// lookup, and the notification sink. Concrete implementations live under
// internal/infrastructure.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowmint/planengine/internal/domain"
)

// ListFilter narrows PlanStore.List. Zero-value fields are unconstrained.
type ListFilter struct {
	PlanID            *uuid.UUID
	Queue             string
	ActiveNonEmpty    bool
	FailedNonEmpty    bool
	WorkflowID        string
	MetadataID        string
	MetadataVersion   *int
	CollectionID      string
	ExcludeFinished   bool
	Limit             int
}

// PlanStore is the sole durable truth for plans (spec §4.1).
type PlanStore interface {
	// Get returns a snapshot read with no lock. ok is false if absent.
	Get(ctx context.Context, planID uuid.UUID) (plan *domain.Plan, ok bool, err error)

	// GetForUpdate reads under a row-level lock inside txn, blocking
	// concurrent mutators. Returns domain.ErrNotFound if missing.
	GetForUpdate(ctx context.Context, txn Tx, planID uuid.UUID) (*domain.Plan, error)

	// Put upserts the plan. When registerSecondaryIndexes is true and the
	// plan carries a metadata/collection binding, the plan id is also
	// recorded (idempotently) in the matching secondary index table.
	Put(ctx context.Context, txn Tx, plan *domain.Plan, registerSecondaryIndexes bool) error

	// List returns plans matching filter, paginated by creation time
	// descending.
	List(ctx context.Context, filter ListFilter) ([]*domain.Plan, error)

	// ListQueues returns the distinct queue names observed across all plans.
	ListQueues(ctx context.Context) ([]string, error)

	// ListFailedJobIDs returns job ids drawn from non-finished plans with a
	// non-empty failed set.
	ListFailedJobIDs(ctx context.Context) ([]domain.JobID, error)

	// RunInTx begins a transaction and invokes fn; the transaction commits
	// if fn returns nil, else it rolls back.
	RunInTx(ctx context.Context, fn func(ctx context.Context, txn Tx) error) error
}

// Tx is an opaque handle to an in-flight Plan Store transaction, threaded
// through GetForUpdate/Put so callers never see the underlying driver type.
type Tx interface {
	// LockedAt returns when the row lock backing this transaction was taken,
	// for slow-transaction diagnostics.
	LockedAt() time.Time
}

// WorkflowDefinitions is the external collaborator exposing workflow
// definitions, out of scope per spec §1 (content catalog CRUD) but consumed
// by the Plan Builder.
type WorkflowDefinitions interface {
	Get(ctx context.Context, workflowID string) (*WorkflowDefinition, error)
	ActivitiesOf(ctx context.Context, workflowID string) ([]ActivityDefinition, error)
	WorkflowsOfTrait(ctx context.Context, traitID string) ([]*WorkflowDefinition, error)
}

// WorkflowDefinition is the minimal shape the Plan Builder needs from a
// workflow definition: identity plus its own default configuration.
type WorkflowDefinition struct {
	ID            string
	Inputs        map[string]any
	Outputs       map[string]any
	StorageSystemIDs []string
}

// ActivityDefinition is a single activity within a workflow definition,
// ordered by execution group ascending then declaration order (spec §4.4
// step 2).
type ActivityDefinition struct {
	ActivityID      string
	Name            string
	ChildWorkflowID string
	ExecutionGroup  int
	Configuration   map[string]any
	Inputs          map[string]any
	Outputs         map[string]any
	Models          []string
	Prompts         []string
	StorageSystems  []string
}

// Notifier publishes plan lifecycle events to external subscribers (spec
// §6). Out of scope here beyond the interface shape — fan-out is an
// external collaborator's job.
type Notifier interface {
	PlanFinished(ctx context.Context, planID uuid.UUID)
	PlanFailed(ctx context.Context, planID uuid.UUID)
	EntityChanged(ctx context.Context, kind, id string)
}
