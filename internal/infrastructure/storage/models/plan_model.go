// Package models holds the Bun row shapes backing the Plan Store. The full
// Plan (including its embedded jobs) round-trips opaquely through a single
// JSONB column; only the columns needed for List/ListQueues/ListFailedJobIDs
// predicates are broken out, mirroring the teacher's JSONBMap convention
// (internal/infrastructure/storage/models/types.go) applied to a single
// opaque struct instead of a free-form map.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/flowmint/planengine/internal/domain"
)

// PlanBlob wraps domain.Plan for JSONB storage. Schema evolution on Plan
// must be additive only, per spec §4.1.
type PlanBlob domain.Plan

// Value implements driver.Valuer.
func (b PlanBlob) Value() (driver.Value, error) {
	bytes, err := json.Marshal(domain.Plan(b))
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements sql.Scanner.
func (b *PlanBlob) Scan(value interface{}) error {
	if value == nil {
		*b = PlanBlob{}
		return nil
	}
	raw, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			raw = []byte(s)
		} else {
			return errors.New("failed to scan PlanBlob: value is neither []byte nor string")
		}
	}
	if len(raw) == 0 {
		*b = PlanBlob{}
		return nil
	}
	var p domain.Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	*b = PlanBlob(p)
	return nil
}

// PlanModel is the workflow_plans row, per spec §6's persisted-state layout.
type PlanModel struct {
	bun.BaseModel `bun:"table:workflow_plans,alias:wp"`

	PlanID          string    `bun:"plan_id,pk,type:uuid"`
	Queue           string    `bun:"queue,notnull"`
	WorkflowID      string    `bun:"workflow_id,notnull"`
	MetadataID      string    `bun:"metadata_id"`
	MetadataVersion *int      `bun:"metadata_version"`
	CollectionID    string    `bun:"collection_id"`
	SupplementaryID string    `bun:"supplementary_id"`
	Finished        *time.Time `bun:"finished"`
	ActiveCount     int       `bun:"active_count,notnull"`
	FailedCount     int       `bun:"failed_count,notnull"`
	Created         time.Time `bun:"created,notnull,default:current_timestamp"`
	Modified        time.Time `bun:"modified,notnull,default:current_timestamp"`
	Configuration   PlanBlob  `bun:"configuration,type:jsonb,notnull"`
}

func (PlanModel) TableName() string { return "workflow_plans" }

// MetadataWorkflowPlanModel is the metadata_workflow_plans secondary index
// row, idempotently upserted and never deleted (spec §9 open question b).
type MetadataWorkflowPlanModel struct {
	bun.BaseModel `bun:"table:metadata_workflow_plans,alias:mwp"`

	MetadataID string `bun:"metadata_id,pk"`
	PlanID     string `bun:"plan_id,pk,type:uuid"`
	Queue      string `bun:"queue,notnull"`
}

func (MetadataWorkflowPlanModel) TableName() string { return "metadata_workflow_plans" }

// CollectionWorkflowPlanModel is the collection_workflow_plans secondary
// index row, same accumulation semantics as MetadataWorkflowPlanModel.
type CollectionWorkflowPlanModel struct {
	bun.BaseModel `bun:"table:collection_workflow_plans,alias:cwp"`

	CollectionID string `bun:"collection_id,pk"`
	PlanID       string `bun:"plan_id,pk,type:uuid"`
	Queue        string `bun:"queue,notnull"`
}

func (CollectionWorkflowPlanModel) TableName() string { return "collection_workflow_plans" }

// ToModel converts a domain.Plan to its row representation, deriving the
// indexed columns from the plan's embedded state.
func ToModel(p *domain.Plan) *PlanModel {
	m := &PlanModel{
		PlanID:        p.PlanID.String(),
		Queue:         p.Queue,
		WorkflowID:    p.WorkflowID,
		Finished:      p.Finished,
		ActiveCount:   len(p.Active),
		FailedCount:   len(p.FailedSet),
		Created:       p.Enqueued,
		Modified:      time.Now(),
		Configuration: PlanBlob(*p),
	}
	switch p.Binding.Kind {
	case domain.BindingMetadata:
		m.MetadataID = p.Binding.MetadataID
		m.MetadataVersion = p.Binding.MetadataVersion
	case domain.BindingCollection:
		m.CollectionID = p.Binding.CollectionID
	case domain.BindingSupplementary:
		m.SupplementaryID = p.Binding.SupplementaryID
	}
	return m
}

// FromModel recovers the domain.Plan from its row representation. The
// indexed columns are redundant with the blob and are not consulted here —
// they exist only to let List/ListQueues/ListFailedJobIDs stay plain SQL.
func FromModel(m *PlanModel) *domain.Plan {
	p := domain.Plan(m.Configuration)
	return &p
}
