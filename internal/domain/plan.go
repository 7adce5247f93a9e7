// Package domain holds the core Plan/Job state machine: the durable truth
// the Plan Store persists and the Plan Engine mutates under a row lock.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobID fully qualifies a dispatchable unit: (queue, plan, index).
type JobID struct {
	Queue  string    `json:"queue"`
	PlanID uuid.UUID `json:"plan_id"`
	Index  int       `json:"index"`
}

// BindingKind names the kind of content entity a plan is bound to.
type BindingKind string

const (
	BindingNone         BindingKind = ""
	BindingMetadata     BindingKind = "metadata"
	BindingCollection   BindingKind = "collection"
	BindingSupplementary BindingKind = "supplementary"
)

// ContentBinding is an optional pointer from a plan to a content entity, used
// for secondary lookup and notification. The content catalog itself is an
// external collaborator; this is only an identifying reference.
type ContentBinding struct {
	Kind            BindingKind `json:"kind,omitempty"`
	MetadataID      string      `json:"metadata_id,omitempty"`
	MetadataVersion *int        `json:"metadata_version,omitempty"`
	CollectionID    string      `json:"collection_id,omitempty"`
	SupplementaryID string      `json:"supplementary_id,omitempty"`
}

// IsZero reports whether the binding carries no entity reference.
func (b ContentBinding) IsZero() bool { return b.Kind == BindingNone }

// Activity describes a unit of work snapshotted at plan-build time.
type Activity struct {
	Name            string         `json:"name"`
	ChildWorkflowID string         `json:"child_workflow_id,omitempty"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	Outputs         map[string]any `json:"outputs,omitempty"`
}

// Job is a concrete instance of an activity within a plan. Jobs are embedded
// by value in their owning plan; they reference the plan only by id, and
// parent/child relations are id-only — no ownership cycles.
type Job struct {
	Index           int            `json:"index"`
	Activity        Activity       `json:"activity"`
	ExecutionGroup  int            `json:"execution_group"`
	ActivityConfig  map[string]any `json:"workflow_activity_config,omitempty"`
	Inputs          map[string]any `json:"workflow_inputs,omitempty"`
	Outputs         map[string]any `json:"workflow_outputs,omitempty"`
	Models          []string       `json:"models,omitempty"`
	Prompts         []string       `json:"prompts,omitempty"`
	StorageSystems  []string       `json:"storage_systems,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	Children        []uuid.UUID    `json:"children,omitempty"`
	CompletedChildren []uuid.UUID  `json:"completed_children,omitempty"`
	FailedChildren  []uuid.UUID    `json:"failed_children,omitempty"`
	Complete        bool           `json:"complete"`
	Finished        *time.Time     `json:"finished,omitempty"`
	Failures        int            `json:"failures"`
	Error           string         `json:"error,omitempty"`
	Parent          *JobID         `json:"parent,omitempty"`
}

// PendingChildren reports whether this job has spawned children not yet
// all accounted for (completed or failed), per spec §4.6.7.
func (j *Job) PendingChildren() bool {
	if len(j.Children) == 0 {
		return false
	}
	return len(j.CompletedChildren)+len(j.FailedChildren) < len(j.Children)
}

// Plan is the unit of durable state: a concrete, persistent instance of a
// workflow run.
type Plan struct {
	PlanID      uuid.UUID       `json:"plan_id"`
	Queue       string          `json:"queue"`
	WorkflowID  string          `json:"workflow_id"`
	Binding     ContentBinding  `json:"content_binding,omitempty"`
	Parent      *JobID          `json:"parent,omitempty"`
	Context     map[string]any  `json:"context,omitempty"`
	Jobs        []Job           `json:"jobs"`
	Active      map[int]bool    `json:"active"`
	CompleteSet map[int]bool    `json:"complete"`
	FailedSet   map[int]bool    `json:"failed"`
	DelayUntil  *time.Time      `json:"delay_until,omitempty"`
	Enqueued    time.Time       `json:"enqueued"`
	Finished    *time.Time      `json:"finished,omitempty"`
	Cancelled   bool            `json:"cancelled"`
	MaxFailures int             `json:"max_failures"`
}

// NewPlan allocates a fresh plan id and zeroed tracking sets, per spec §4.4
// step 7 (allocate plan_id, enqueued=now, finished=None, max_failures default).
func NewPlan(queue, workflowID string, maxFailures int) *Plan {
	return &Plan{
		PlanID:      uuid.New(),
		Queue:       queue,
		WorkflowID:  workflowID,
		Active:      map[int]bool{},
		CompleteSet: map[int]bool{},
		FailedSet:   map[int]bool{},
		Enqueued:    time.Now(),
		MaxFailures: maxFailures,
	}
}

// JobID returns the fully-qualified id of the job at index i.
func (p *Plan) JobID(index int) JobID {
	return JobID{Queue: p.Queue, PlanID: p.PlanID, Index: index}
}

// IsFinished reports whether the plan has reached a terminal state.
func (p *Plan) IsFinished() bool { return p.Finished != nil }

// Failed reports whether at least one job is in the failed set, whether or
// not the plan has finished; on a finished plan it means the plan failed.
func (p *Plan) Failed() bool { return len(p.FailedSet) > 0 }

// RemainingIndices returns job indices that are neither complete nor failed.
func (p *Plan) RemainingIndices() []int {
	var out []int
	for i := range p.Jobs {
		if !p.CompleteSet[i] && !p.FailedSet[i] {
			out = append(out, i)
		}
	}
	return out
}

// NextGroup returns the lowest execution_group among remaining jobs, and
// whether any remaining job exists.
func (p *Plan) NextGroup() (int, bool) {
	remaining := p.RemainingIndices()
	if len(remaining) == 0 {
		return 0, false
	}
	next := p.Jobs[remaining[0]].ExecutionGroup
	for _, i := range remaining[1:] {
		if p.Jobs[i].ExecutionGroup < next {
			next = p.Jobs[i].ExecutionGroup
		}
	}
	return next, true
}

// ActiveSetTerminal reports whether every job currently marked active has
// reached a terminal state (complete or failed) — the barrier-crossing
// precondition in spec §4.6.8.
func (p *Plan) ActiveSetTerminal() bool {
	for i := range p.Active {
		if !p.CompleteSet[i] && !p.FailedSet[i] {
			return false
		}
	}
	return true
}
