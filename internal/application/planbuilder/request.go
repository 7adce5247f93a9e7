// Package planbuilder turns an EnqueueRequest into one or more dispatchable
// plans (spec §4.4): resolve workflow(s), snapshot activities into jobs,
// seed the first execution group as active, and allocate plan identity.
package planbuilder

import (
	"time"

	"github.com/flowmint/planengine/internal/domain"
)

// ConfigurationOverride merges onto one activity's base configuration
// (spec §4.4 step 3): if the base is nil, override replaces it wholesale;
// otherwise override's keys shallow-merge on top.
type ConfigurationOverride struct {
	ActivityID    string
	Configuration map[string]any
}

// EnqueueRequest mirrors spec §6's wire shape. WorkflowID/TraitID are
// mutually exclusive; Workflow is accepted as an embedded definition
// instead of an id (exactly one of WorkflowID, Workflow, TraitID must be
// set).
type EnqueueRequest struct {
	WorkflowID             string
	Workflow               *domain.Activity // embedded ad-hoc single-activity workflow, rare path
	TraitID                string
	Binding                domain.ContentBinding
	StorageSystemIDs       []string
	ConfigurationOverrides []ConfigurationOverride
	DelayUntil             *time.Time
	WaitForCompletion      bool
	Queue                  string
	MaxFailures            int
}

// Validate enforces the mutual-exclusion rule from spec §6/§7.
func (r EnqueueRequest) Validate() error {
	set := 0
	if r.WorkflowID != "" {
		set++
	}
	if r.Workflow != nil {
		set++
	}
	if r.TraitID != "" {
		set++
	}
	if set != 1 {
		return &domain.ValidationError{
			Field:   "workflow_id/workflow/trait_id",
			Message: "exactly one of workflow_id, workflow, or trait_id must be set",
		}
	}
	if r.Queue == "" {
		return &domain.ValidationError{Field: "queue", Message: "queue is required"}
	}
	return nil
}

func (r EnqueueRequest) overrideFor(activityID string) map[string]any {
	for _, o := range r.ConfigurationOverrides {
		if o.ActivityID == activityID {
			return o.Configuration
		}
	}
	return nil
}
