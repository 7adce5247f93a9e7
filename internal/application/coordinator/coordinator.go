// Package coordinator implements the durable-first, dispatch-second
// transaction contract every Plan Engine operation runs under (spec §4.3):
// mutate under a row lock, persist, commit, then apply the staged Queue
// Index ops. If the commit fails, no queue op is ever applied; if an
// applied op fails, it is retried using the plan's finished marker as an
// idempotency tie-breaker.
package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/domain/repository"
	"github.com/flowmint/planengine/internal/infrastructure/logger"
	"github.com/flowmint/planengine/internal/infrastructure/queueindex"
)

// StagedOp is a Queue Index side effect staged during a mutation, applied
// only after the durable transaction commits.
type StagedOp interface {
	Apply(ctx context.Context, ix *queueindex.Index) error
	// Name identifies the op for logging and idempotent-retry diagnostics.
	Name() string
}

// Mutation is the caller-supplied step run under the plan's row lock: given
// the locked plan, it returns the ops to stage (applied only after commit)
// or an error to abort the whole transaction.
type Mutation func(ctx context.Context, plan *domain.Plan) ([]StagedOp, error)

// Coordinator sequences a PlanStore transaction and a queueindex.Index
// apply step per the 5-step contract.
type Coordinator struct {
	store  repository.PlanStore
	index  *queueindex.Index
	log    *logger.Logger
	maxApplyRetries int
}

// New constructs a Coordinator over store and index.
func New(store repository.PlanStore, index *queueindex.Index, log *logger.Logger) *Coordinator {
	return &Coordinator{store: store, index: index, log: log, maxApplyRetries: 3}
}

// Do runs the 5-step contract against planID: begin tx + lock (step 1),
// invoke mutate and persist its result (steps 2-3), commit (step 4), then
// apply the staged ops (step 5). registerSecondaryIndexes controls whether
// Put also accumulates the plan's metadata/collection secondary rows.
func (c *Coordinator) Do(ctx context.Context, planID uuid.UUID, registerSecondaryIndexes bool, mutate Mutation) error {
	var staged []StagedOp
	var finishedAtCommit *time.Time

	err := c.store.RunInTx(ctx, func(ctx context.Context, txn repository.Tx) error {
		plan, err := c.store.GetForUpdate(ctx, txn, planID)
		if err != nil {
			return err
		}

		ops, err := mutate(ctx, plan)
		if err != nil {
			return err
		}

		if err := c.store.Put(ctx, txn, plan, registerSecondaryIndexes); err != nil {
			return err
		}

		staged = ops
		finishedAtCommit = plan.Finished
		return nil
	})
	if err != nil {
		// Step 4 failed (or mutate/Put aborted it): no staged op is applied.
		return err
	}

	return c.apply(ctx, planID, finishedAtCommit, staged)
}

// DoNew runs the same contract for a brand-new plan that has no existing
// row to lock: it persists plan for the first time inside a transaction,
// then applies the staged ops.
func (c *Coordinator) DoNew(ctx context.Context, plan *domain.Plan, registerSecondaryIndexes bool, stage func(plan *domain.Plan) []StagedOp) error {
	var staged []StagedOp

	err := c.store.RunInTx(ctx, func(ctx context.Context, txn repository.Tx) error {
		staged = stage(plan)
		return c.store.Put(ctx, txn, plan, registerSecondaryIndexes)
	})
	if err != nil {
		return err
	}

	return c.apply(ctx, plan.PlanID, plan.Finished, staged)
}

// DoNewBatch runs the same contract as DoNew for a batch of brand-new plans
// persisted inside a single transaction: if staging or persisting any plan in
// the batch fails, the whole batch rolls back together rather than leaving
// earlier plans durably committed. Used when one parent mutation spawns
// multiple children that must become durable atomically (spec §4.6.2).
func (c *Coordinator) DoNewBatch(ctx context.Context, plans []*domain.Plan, registerSecondaryIndexes bool, stage func(plan *domain.Plan) []StagedOp) error {
	if len(plans) == 0 {
		return nil
	}

	var staged []StagedOp

	err := c.store.RunInTx(ctx, func(ctx context.Context, txn repository.Tx) error {
		staged = nil
		for _, plan := range plans {
			staged = append(staged, stage(plan)...)
			if err := c.store.Put(ctx, txn, plan, registerSecondaryIndexes); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return c.apply(ctx, plans[0].PlanID, nil, staged)
}

// apply runs the staged ops in order, retrying on failure up to
// maxApplyRetries. Per spec §4.3, only a push-pending op is order-sensitive
// and non-idempotent on replay, so a retry resumes at the op that failed
// and never re-applies ops that already succeeded; retrying stops early when
// the plan was already finished at commit, the durable tie-breaker.
func (c *Coordinator) apply(ctx context.Context, planID uuid.UUID, finishedAtCommit *time.Time, ops []StagedOp) error {
	if len(ops) == 0 {
		return nil
	}

	var lastErr error
	next := 0
	for attempt := 0; attempt <= c.maxApplyRetries; attempt++ {
		next, lastErr = c.applyFrom(ctx, ops, next)
		if lastErr == nil {
			return nil
		}

		c.log.Warn("queue index apply failed, retrying",
			"plan_id", planID.String(),
			"attempt", attempt,
			"error", lastErr.Error(),
		)

		// A plan already finished at commit has no further dispatch to
		// make; re-applying push-pending would resurrect a dead plan, so
		// stop.
		if finishedAtCommit != nil {
			break
		}
	}

	return &domain.DispatchError{Op: "coordinator_apply", Err: lastErr}
}

// applyFrom applies ops[start:] in order and returns the index of the op
// that failed (len(ops) on success), so a retry can resume there.
func (c *Coordinator) applyFrom(ctx context.Context, ops []StagedOp, start int) (int, error) {
	for i := start; i < len(ops); i++ {
		if err := ops[i].Apply(ctx, c.index); err != nil {
			return i, err
		}
	}
	return len(ops), nil
}
