// Package planengine implements the plan/job state machine's public
// operations (spec §4.6): enqueue, heartbeat, context mutation, delay,
// fail, complete, advance, cancel, child aggregation, retry-all-failed, and
// finalization. Every durable mutation runs through the Transaction
// Coordinator; heartbeat is the one lightweight exception (spec §4.6.3).
package planengine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowmint/planengine/internal/application/coordinator"
	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/domain/repository"
	"github.com/flowmint/planengine/internal/infrastructure/logger"
	"github.com/flowmint/planengine/internal/infrastructure/queueindex"
)

// Engine implements spec §4.6 against a Coordinator, the durable store, and
// a lightweight queue index handle for the heartbeat fast path.
type Engine struct {
	coord    *coordinator.Coordinator
	store    repository.PlanStore
	index    *queueindex.Index
	notifier repository.Notifier
	log      *logger.Logger
	lease    time.Duration
}

// New constructs an Engine. lease is the worker lease duration used to
// compute heartbeat and delay-retry expiry (spec default 1800s).
func New(coord *coordinator.Coordinator, store repository.PlanStore, index *queueindex.Index, notifier repository.Notifier, log *logger.Logger, lease time.Duration) *Engine {
	return &Engine{coord: coord, store: store, index: index, notifier: notifier, log: log, lease: lease}
}

// EnqueuePlan transitions a freshly built plan from constructed to
// dispatchable (spec §4.6.1).
func (e *Engine) EnqueuePlan(ctx context.Context, plan *domain.Plan) error {
	var result *domain.Plan
	err := e.coord.DoNew(ctx, plan, true, func(p *domain.Plan) []coordinator.StagedOp {
		result = p
		return e.stageEnqueueGroup(p, 1)
	})
	if err != nil {
		return err
	}
	e.notifyIfFinished(ctx, result)
	return nil
}

// stageEnqueueGroup pushes pending tokens for every active index at group,
// or finalizes the plan immediately if nothing is active to dispatch
// (spec §4.6.1's Complete branch).
func (e *Engine) stageEnqueueGroup(plan *domain.Plan, group int) []coordinator.StagedOp {
	var ops []coordinator.StagedOp
	dispatched := false
	for idx := range plan.Active {
		if plan.Jobs[idx].ExecutionGroup != group {
			continue
		}
		ops = append(ops, coordinator.PushPendingOp{JobID: plan.JobID(idx)})
		dispatched = true
	}

	if dispatched {
		ops = append(ops, e.stageEntityIncrement(plan)...)
		return ops
	}

	return append(ops, e.stageFinalize(plan)...)
}

// EnqueueChildWorkflows implements spec §4.6.2. All children are brand-new
// plans persisted inside a single transaction via DoNewBatch, so an Error
// partway through the batch rolls back every child rather than leaving a
// prefix durably enqueued. The parent is locked separately afterward, purely
// to append the now-durable child ids onto the parent job's Children list.
func (e *Engine) EnqueueChildWorkflows(ctx context.Context, parentJobID domain.JobID, children []*domain.Plan) ([]uuid.UUID, error) {
	if err := e.verifyParentJobOpen(ctx, parentJobID); err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, nil
	}

	for _, child := range children {
		child.Parent = &parentJobID
	}

	if err := e.coord.DoNewBatch(ctx, children, true, func(p *domain.Plan) []coordinator.StagedOp {
		return e.stageEnqueueGroup(p, 1)
	}); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(children))
	for i, child := range children {
		ids[i] = child.PlanID
	}

	err := e.coord.Do(ctx, parentJobID.PlanID, false, func(_ context.Context, parent *domain.Plan) ([]coordinator.StagedOp, error) {
		if parentJobID.Index < 0 || parentJobID.Index >= len(parent.Jobs) {
			return nil, &domain.NotFoundError{Kind: "job", ID: parentJobID.Queue}
		}
		job := &parent.Jobs[parentJobID.Index]
		job.Children = append(job.Children, ids...)
		ops := make([]coordinator.StagedOp, len(ids))
		for i := range ids {
			ops[i] = coordinator.CounterOp{Which: "enqueued_child"}
		}
		return ops, nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// verifyParentJobOpen rejects spawning children under a job that has
// already been marked complete, per spec §4.6.2.
func (e *Engine) verifyParentJobOpen(ctx context.Context, jobID domain.JobID) error {
	plan, found, err := e.store.Get(ctx, jobID.PlanID)
	if err != nil {
		return &domain.StoreError{Op: "enqueue_child_workflows_get", Err: err}
	}
	if !found {
		return &domain.NotFoundError{Kind: "plan", ID: jobID.PlanID.String()}
	}
	if jobID.Index < 0 || jobID.Index >= len(plan.Jobs) {
		return &domain.NotFoundError{Kind: "job", ID: jobID.Queue}
	}
	if plan.Jobs[jobID.Index].Complete {
		return &domain.InvalidStateError{PlanID: plan.PlanID.String(), Reason: "parent job already complete"}
	}
	return nil
}

// Heartbeat implements spec §4.6.3's lightweight path: no database
// transaction, a snapshot read, and a direct queue-index refresh.
func (e *Engine) Heartbeat(ctx context.Context, jobID domain.JobID) error {
	plan, found, err := e.store.Get(ctx, jobID.PlanID)
	if err != nil {
		return &domain.StoreError{Op: "heartbeat_get", Err: err}
	}
	if !found || plan.IsFinished() {
		return nil
	}
	if jobID.Index < 0 || jobID.Index >= len(plan.Jobs) || plan.Jobs[jobID.Index].Complete {
		return nil
	}

	expiry := time.Now().Add(e.lease)
	if err := e.index.Heartbeat(ctx, jobID.Queue, queueindex.JobToken(jobID), expiry); err != nil {
		return &domain.DispatchError{Op: "heartbeat", Err: err}
	}
	return nil
}

// SetContext overwrites plan.context (spec §4.6.4). A nil ctx clears it.
func (e *Engine) SetContext(ctxParent context.Context, planID uuid.UUID, ctx map[string]any) error {
	return e.coord.Do(ctxParent, planID, false, func(_ context.Context, plan *domain.Plan) ([]coordinator.StagedOp, error) {
		plan.Context = ctx
		return []coordinator.StagedOp{coordinator.CounterOp{Which: "context_set"}}, nil
	})
}

// SetJobContext overwrites plan.jobs[i].context (spec §4.6.4).
func (e *Engine) SetJobContext(ctxParent context.Context, jobID domain.JobID, ctx map[string]any) error {
	return e.coord.Do(ctxParent, jobID.PlanID, false, func(_ context.Context, plan *domain.Plan) ([]coordinator.StagedOp, error) {
		if jobID.Index < 0 || jobID.Index >= len(plan.Jobs) {
			return nil, &domain.NotFoundError{Kind: "job", ID: jobID.Queue}
		}
		plan.Jobs[jobID.Index].Context = ctx
		return []coordinator.StagedOp{coordinator.CounterOp{Which: "job_context_set"}}, nil
	})
}

// Delay re-queues a job's token (spec §4.6.5): it records until as
// plan.DelayUntil, removes the token from running and pending, and pushes it
// back onto the pending tail. The token is dispatchable again at once:
// neither the Queue Index nor the Dispatcher holds it back until `until`,
// and the dequeued job carries no delay information.
func (e *Engine) Delay(ctxParent context.Context, jobID domain.JobID, until time.Time) error {
	return e.coord.Do(ctxParent, jobID.PlanID, false, func(_ context.Context, plan *domain.Plan) ([]coordinator.StagedOp, error) {
		if jobID.Index < 0 || jobID.Index >= len(plan.Jobs) {
			return nil, &domain.NotFoundError{Kind: "job", ID: jobID.Queue}
		}
		if plan.IsFinished() || plan.Jobs[jobID.Index].Complete {
			return nil, nil
		}
		plan.DelayUntil = &until
		return []coordinator.StagedOp{
			coordinator.RemoveRunningOp{JobID: jobID},
			coordinator.CancelPendingOp{JobID: jobID},
			coordinator.PushPendingOp{JobID: jobID},
			coordinator.CounterOp{Which: "job_delayed"},
		}, nil
	})
}

// Fail implements spec §4.6.6: retry under the failure cap, or terminal
// failure that attempts to advance the plan.
func (e *Engine) Fail(ctxParent context.Context, jobID domain.JobID, errMsg string, tryAgain bool) error {
	var finalized *domain.Plan
	err := e.coord.Do(ctxParent, jobID.PlanID, false, func(_ context.Context, plan *domain.Plan) ([]coordinator.StagedOp, error) {
		if jobID.Index < 0 || jobID.Index >= len(plan.Jobs) {
			return nil, &domain.NotFoundError{Kind: "job", ID: jobID.Queue}
		}
		job := &plan.Jobs[jobID.Index]
		if plan.IsFinished() || job.Complete {
			return nil, nil
		}

		job.Failures++
		job.Error = errMsg

		if tryAgain && job.Failures < plan.MaxFailures && !plan.Cancelled {
			return []coordinator.StagedOp{
				coordinator.RemoveRunningOp{JobID: jobID},
				coordinator.PushPendingOp{JobID: jobID},
			}, nil
		}

		now := time.Now()
		job.Complete = true
		job.Finished = &now
		delete(plan.Active, jobID.Index)
		plan.FailedSet[jobID.Index] = true

		ops := []coordinator.StagedOp{
			coordinator.RemoveRunningOp{JobID: jobID},
			coordinator.CounterOp{Which: "job_failed"},
		}
		ops = append(ops, e.advance(plan)...)
		if plan.IsFinished() {
			finalized = plan
		}
		return ops, nil
	})
	if err != nil {
		return err
	}
	e.notifyIfFinished(ctxParent, finalized)
	if finalized != nil && finalized.Parent != nil {
		return e.onChildFinished(ctxParent, finalized)
	}
	return nil
}

// Complete implements spec §4.6.7, including the pending-children gate.
func (e *Engine) Complete(ctxParent context.Context, jobID domain.JobID) error {
	var finalized *domain.Plan
	err := e.coord.Do(ctxParent, jobID.PlanID, false, func(_ context.Context, plan *domain.Plan) ([]coordinator.StagedOp, error) {
		if jobID.Index < 0 || jobID.Index >= len(plan.Jobs) {
			return nil, &domain.NotFoundError{Kind: "job", ID: jobID.Queue}
		}
		job := &plan.Jobs[jobID.Index]
		if plan.IsFinished() || job.Complete {
			return nil, nil
		}
		if job.PendingChildren() {
			// Intent recorded implicitly: children already reference this
			// job via Parent, and onChildFinished retries this same path.
			return nil, nil
		}

		now := time.Now()
		job.Complete = true
		job.Finished = &now
		delete(plan.Active, jobID.Index)
		plan.CompleteSet[jobID.Index] = true

		ops := []coordinator.StagedOp{
			coordinator.RemoveRunningOp{JobID: jobID},
			coordinator.CounterOp{Which: "job_complete"},
		}
		ops = append(ops, e.advance(plan)...)
		if plan.IsFinished() {
			finalized = plan
		}
		return ops, nil
	})
	if err != nil {
		return err
	}
	e.notifyIfFinished(ctxParent, finalized)
	if finalized != nil && finalized.Parent != nil {
		return e.onChildFinished(ctxParent, finalized)
	}
	return nil
}

// advance implements spec §4.6.8's barrier logic. It mutates plan in place
// and returns the ops to stage; callers check plan.IsFinished() afterward.
func (e *Engine) advance(plan *domain.Plan) []coordinator.StagedOp {
	if plan.Cancelled {
		return e.stageFinalize(plan)
	}

	if !plan.ActiveSetTerminal() {
		return nil
	}

	nextGroup, hasRemaining := plan.NextGroup()
	if !hasRemaining {
		return e.stageFinalize(plan)
	}

	if plan.Failed() {
		// Policy: any failure at a group boundary halts the plan.
		return e.stageFinalize(plan)
	}

	var ops []coordinator.StagedOp
	for _, idx := range plan.RemainingIndices() {
		if plan.Jobs[idx].ExecutionGroup != nextGroup {
			continue
		}
		plan.Active[idx] = true
		ops = append(ops, coordinator.PushPendingOp{JobID: plan.JobID(idx)})
	}
	return ops
}

// stageFinalize sets plan.Finished and stages the entity-counter
// decrements the Finalization section calls for.
func (e *Engine) stageFinalize(plan *domain.Plan) []coordinator.StagedOp {
	if plan.IsFinished() {
		return nil
	}
	now := time.Now()
	plan.Finished = &now
	plan.Active = map[int]bool{}
	return e.stageEntityDecrement(plan)
}

func (e *Engine) stageEntityIncrement(plan *domain.Plan) []coordinator.StagedOp {
	ops := []coordinator.StagedOp{
		coordinator.EntityCounterOp{Kind: queueindex.EntityPlan, ID: plan.Queue, Incr: true},
	}
	switch plan.Binding.Kind {
	case domain.BindingMetadata:
		ops = append(ops, coordinator.EntityCounterOp{Kind: queueindex.EntityMetadata, ID: plan.Binding.MetadataID, Incr: true})
	case domain.BindingCollection:
		ops = append(ops, coordinator.EntityCounterOp{Kind: queueindex.EntityCollection, ID: plan.Binding.CollectionID, Incr: true})
	}
	return ops
}

func (e *Engine) stageEntityDecrement(plan *domain.Plan) []coordinator.StagedOp {
	ops := []coordinator.StagedOp{
		coordinator.EntityCounterOp{Kind: queueindex.EntityPlan, ID: plan.Queue, Incr: false},
	}
	switch plan.Binding.Kind {
	case domain.BindingMetadata:
		ops = append(ops, coordinator.EntityCounterOp{Kind: queueindex.EntityMetadata, ID: plan.Binding.MetadataID, Incr: false})
	case domain.BindingCollection:
		ops = append(ops, coordinator.EntityCounterOp{Kind: queueindex.EntityCollection, ID: plan.Binding.CollectionID, Incr: false})
	}
	return ops
}

// Cancel implements spec §4.6.9 across every non-finished plan matching
// filter.
func (e *Engine) Cancel(ctx context.Context, filter repository.ListFilter) error {
	filter.ExcludeFinished = true
	plans, err := e.store.List(ctx, filter)
	if err != nil {
		return &domain.StoreError{Op: "cancel_list", Err: err}
	}

	for _, p := range plans {
		planID := p.PlanID
		var finalized *domain.Plan
		err := e.coord.Do(ctx, planID, false, func(_ context.Context, plan *domain.Plan) ([]coordinator.StagedOp, error) {
			if plan.IsFinished() {
				return nil, nil
			}
			var ops []coordinator.StagedOp
			now := time.Now()
			for idx := range plan.Active {
				jobID := plan.JobID(idx)
				plan.Jobs[idx].Finished = &now
				ops = append(ops,
					coordinator.CancelPendingOp{JobID: jobID},
					coordinator.RemoveRunningOp{JobID: jobID},
				)
			}
			plan.Active = map[int]bool{}
			plan.Cancelled = true
			plan.Finished = &now
			ops = append(ops, e.stageEntityDecrement(plan)...)
			finalized = plan
			return ops, nil
		})
		if err != nil {
			return err
		}
		e.notifyIfFinished(ctx, finalized)
	}
	return nil
}

// RetryAllFailed is the operator command described in spec §4.6's "Retry
// all failed" section: collect every failed job id of the non-finished plans
// and re-arm each one for dispatch now via retryFailedJob. It returns the
// number of ids collected.
func (e *Engine) RetryAllFailed(ctx context.Context) (int, error) {
	ids, err := e.store.ListFailedJobIDs(ctx)
	if err != nil {
		return 0, &domain.StoreError{Op: "retry_all_failed_list", Err: err}
	}

	now := time.Now()
	for _, id := range ids {
		if err := e.retryFailedJob(ctx, id, now); err != nil {
			e.log.Warn("retry_all_failed: failed to requeue job", "job_id", id, "error", err.Error())
		}
	}
	return len(ids), nil
}

// retryFailedJob reactivates one previously-terminal failed job by
// re-arming it for dispatch, grounded in original_source's retry_jobs: it
// clears the job's terminal flags, moves its index from failed back to
// active and pushes its token to pending. It does not go through Delay
// (which ignores complete jobs), and until is not used.
func (e *Engine) retryFailedJob(ctxParent context.Context, jobID domain.JobID, until time.Time) error {
	return e.coord.Do(ctxParent, jobID.PlanID, false, func(_ context.Context, plan *domain.Plan) ([]coordinator.StagedOp, error) {
		if jobID.Index < 0 || jobID.Index >= len(plan.Jobs) {
			return nil, &domain.NotFoundError{Kind: "job", ID: jobID.Queue}
		}
		if plan.IsFinished() || !plan.FailedSet[jobID.Index] {
			return nil, nil
		}

		job := &plan.Jobs[jobID.Index]
		job.Complete = false
		job.Finished = nil
		delete(plan.FailedSet, jobID.Index)
		plan.Active[jobID.Index] = true

		return []coordinator.StagedOp{coordinator.PushPendingOp{JobID: jobID}}, nil
	})
}

// onChildFinished implements the child plan completion callback: it walks
// child.Parent, records the outcome on the parent job, and retries the
// parent's pending-complete check.
func (e *Engine) onChildFinished(ctx context.Context, child *domain.Plan) error {
	parentID := child.Parent
	var parentFinalized *domain.Plan
	err := e.coord.Do(ctx, parentID.PlanID, false, func(_ context.Context, parent *domain.Plan) ([]coordinator.StagedOp, error) {
		if parentID.Index < 0 || parentID.Index >= len(parent.Jobs) {
			return nil, &domain.NotFoundError{Kind: "job", ID: parentID.Queue}
		}
		job := &parent.Jobs[parentID.Index]
		if job.Complete {
			return nil, nil
		}

		if child.Failed() {
			job.FailedChildren = append(job.FailedChildren, child.PlanID)
		} else {
			job.CompletedChildren = append(job.CompletedChildren, child.PlanID)
		}

		if job.PendingChildren() {
			return nil, nil
		}

		now := time.Now()
		job.Complete = true
		job.Finished = &now
		delete(parent.Active, parentID.Index)
		parent.CompleteSet[parentID.Index] = true

		ops := e.advance(parent)
		if parent.IsFinished() {
			parentFinalized = parent
		}
		return ops, nil
	})
	if err != nil {
		return err
	}
	e.notifyIfFinished(ctx, parentFinalized)
	if parentFinalized != nil && parentFinalized.Parent != nil {
		return e.onChildFinished(ctx, parentFinalized)
	}
	return nil
}

func (e *Engine) notifyIfFinished(ctx context.Context, plan *domain.Plan) {
	if plan == nil || e.notifier == nil || !plan.IsFinished() {
		return
	}
	if plan.Failed() {
		e.notifier.PlanFailed(ctx, plan.PlanID)
	} else {
		e.notifier.PlanFinished(ctx, plan.PlanID)
	}
}
