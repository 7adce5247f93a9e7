package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/domain/repository"
	"github.com/flowmint/planengine/internal/infrastructure/storage/models"
)

var _ repository.PlanStore = (*PlanStore)(nil)
var _ repository.Tx = (*txHandle)(nil)

// txHandle threads a bun.Tx through the repository.Tx interface so callers
// outside this package never see the driver type, grounded in the teacher's
// ExecutionRepository.Update RunInTx idiom.
type txHandle struct {
	tx       bun.Tx
	lockedAt time.Time
}

func (h *txHandle) LockedAt() time.Time { return h.lockedAt }

func txOf(txn repository.Tx) (bun.Tx, error) {
	h, ok := txn.(*txHandle)
	if !ok {
		return bun.Tx{}, errors.New("storage: txn was not issued by this PlanStore's RunInTx")
	}
	return h.tx, nil
}

// PlanStore is the Bun-backed durable truth for plans (spec §4.1).
type PlanStore struct {
	db *bun.DB
}

// NewPlanStore wraps an already-configured Bun connection.
func NewPlanStore(db *bun.DB) *PlanStore {
	return &PlanStore{db: db}
}

// RunInTx begins a transaction and invokes fn; the transaction commits if fn
// returns nil, else it rolls back.
func (s *PlanStore) RunInTx(ctx context.Context, fn func(ctx context.Context, txn repository.Tx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &txHandle{tx: tx, lockedAt: time.Now()})
	})
}

// Get returns a snapshot read with no lock.
func (s *PlanStore) Get(ctx context.Context, planID uuid.UUID) (*domain.Plan, bool, error) {
	m := &models.PlanModel{}
	err := s.db.NewSelect().Model(m).Where("plan_id = ?", planID.String()).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, &domain.StoreError{Op: "get", Err: err}
	}
	return models.FromModel(m), true, nil
}

// GetForUpdate reads under a row-level lock inside txn.
func (s *PlanStore) GetForUpdate(ctx context.Context, txn repository.Tx, planID uuid.UUID) (*domain.Plan, error) {
	tx, err := txOf(txn)
	if err != nil {
		return nil, err
	}
	m := &models.PlanModel{}
	err = tx.NewSelect().Model(m).Where("plan_id = ?", planID.String()).For("UPDATE").Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "plan", ID: planID.String()}
		}
		return nil, &domain.StoreError{Op: "get_for_update", Err: err}
	}
	return models.FromModel(m), nil
}

// Put upserts the plan and, when requested, accumulates its secondary-index
// rows. Secondary rows are never deleted — spec §9 open question (b).
func (s *PlanStore) Put(ctx context.Context, txn repository.Tx, plan *domain.Plan, registerSecondaryIndexes bool) error {
	tx, err := txOf(txn)
	if err != nil {
		return err
	}
	m := models.ToModel(plan)
	_, err = tx.NewInsert().Model(m).
		On("CONFLICT (plan_id) DO UPDATE").
		Set("queue = EXCLUDED.queue").
		Set("finished = EXCLUDED.finished").
		Set("active_count = EXCLUDED.active_count").
		Set("failed_count = EXCLUDED.failed_count").
		Set("modified = EXCLUDED.modified").
		Set("configuration = EXCLUDED.configuration").
		Exec(ctx)
	if err != nil {
		return &domain.StoreError{Op: "put", Err: fmt.Errorf("failed to upsert plan: %w", err)}
	}

	if !registerSecondaryIndexes {
		return nil
	}
	switch plan.Binding.Kind {
	case domain.BindingMetadata:
		row := &models.MetadataWorkflowPlanModel{MetadataID: plan.Binding.MetadataID, PlanID: plan.PlanID.String(), Queue: plan.Queue}
		if _, err := tx.NewInsert().Model(row).On("CONFLICT (metadata_id, plan_id) DO NOTHING").Exec(ctx); err != nil {
			return &domain.StoreError{Op: "put_metadata_index", Err: err}
		}
	case domain.BindingCollection:
		row := &models.CollectionWorkflowPlanModel{CollectionID: plan.Binding.CollectionID, PlanID: plan.PlanID.String(), Queue: plan.Queue}
		if _, err := tx.NewInsert().Model(row).On("CONFLICT (collection_id, plan_id) DO NOTHING").Exec(ctx); err != nil {
			return &domain.StoreError{Op: "put_collection_index", Err: err}
		}
	}
	return nil
}

// List returns plans matching filter, newest first.
func (s *PlanStore) List(ctx context.Context, filter repository.ListFilter) ([]*domain.Plan, error) {
	var rows []*models.PlanModel
	q := s.db.NewSelect().Model(&rows).Order("created DESC")

	if filter.PlanID != nil {
		q = q.Where("plan_id = ?", filter.PlanID.String())
	}
	if filter.Queue != "" {
		q = q.Where("queue = ?", filter.Queue)
	}
	if filter.WorkflowID != "" {
		q = q.Where("workflow_id = ?", filter.WorkflowID)
	}
	if filter.MetadataID != "" {
		q = q.Where("metadata_id = ?", filter.MetadataID)
		if filter.MetadataVersion != nil {
			q = q.Where("metadata_version = ?", *filter.MetadataVersion)
		}
	}
	if filter.CollectionID != "" {
		q = q.Where("collection_id = ?", filter.CollectionID)
	}
	if filter.ActiveNonEmpty {
		q = q.Where("active_count > 0")
	}
	if filter.FailedNonEmpty {
		q = q.Where("failed_count > 0")
	}
	if filter.ExcludeFinished {
		q = q.Where("finished IS NULL")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, &domain.StoreError{Op: "list", Err: err}
	}

	out := make([]*domain.Plan, len(rows))
	for i, r := range rows {
		out[i] = models.FromModel(r)
	}
	return out, nil
}

// ListQueues returns the distinct queue names observed across all plans.
func (s *PlanStore) ListQueues(ctx context.Context) ([]string, error) {
	var queues []string
	err := s.db.NewSelect().
		Model((*models.PlanModel)(nil)).
		ColumnExpr("DISTINCT queue").
		Scan(ctx, &queues)
	if err != nil {
		return nil, &domain.StoreError{Op: "list_queues", Err: err}
	}
	return queues, nil
}

// ListFailedJobIDs returns job ids drawn from non-finished plans with a
// non-empty failed set, grounded in original_source's get_failed_ids query.
func (s *PlanStore) ListFailedJobIDs(ctx context.Context) ([]domain.JobID, error) {
	var rows []*models.PlanModel
	err := s.db.NewSelect().
		Model(&rows).
		Where("finished IS NULL AND failed_count > 0").
		Scan(ctx)
	if err != nil {
		return nil, &domain.StoreError{Op: "list_failed_job_ids", Err: err}
	}

	var out []domain.JobID
	for _, r := range rows {
		plan := models.FromModel(r)
		for idx := range plan.FailedSet {
			out = append(out, plan.JobID(idx))
		}
	}
	return out, nil
}
