package coordinator

import (
	"context"
	"time"

	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/infrastructure/queueindex"
)

// PushPendingOp enqueues a job token to its queue's pending FIFO. Per spec
// §4.3 this is the one non-idempotent op: re-applying it after a partial
// batch failure would double-enqueue, which is why Coordinator.apply resumes
// a retry at the failed op instead of replaying the batch, and stops
// retrying when the plan was already finished at commit.
type PushPendingOp struct {
	JobID domain.JobID
}

func (op PushPendingOp) Name() string { return "push_pending" }

func (op PushPendingOp) Apply(ctx context.Context, ix *queueindex.Index) error {
	return ix.PushPending(ctx, op.JobID.Queue, queueindex.JobToken(op.JobID))
}

// CancelPendingOp removes a job token from its queue's pending FIFO.
type CancelPendingOp struct {
	JobID domain.JobID
}

func (op CancelPendingOp) Name() string { return "cancel_pending" }

func (op CancelPendingOp) Apply(ctx context.Context, ix *queueindex.Index) error {
	return ix.CancelPending(ctx, op.JobID.Queue, queueindex.JobToken(op.JobID))
}

// RemoveRunningOp drops a job token from its queue's running set, used on
// completion, terminal failure, and cleanup.
type RemoveRunningOp struct {
	JobID domain.JobID
}

func (op RemoveRunningOp) Name() string { return "remove_running" }

func (op RemoveRunningOp) Apply(ctx context.Context, ix *queueindex.Index) error {
	return ix.RemoveRunning(ctx, op.JobID.Queue, queueindex.JobToken(op.JobID))
}

// HeartbeatOp refreshes a running job's lease-expiry score.
type HeartbeatOp struct {
	JobID  domain.JobID
	Expiry time.Time
}

func (op HeartbeatOp) Name() string { return "heartbeat" }

func (op HeartbeatOp) Apply(ctx context.Context, ix *queueindex.Index) error {
	return ix.Heartbeat(ctx, op.JobID.Queue, queueindex.JobToken(op.JobID), op.Expiry)
}

// EntityCounterOp increments or decrements an advisory running-entity
// counter (metadata/collection/plan), per spec §6.
type EntityCounterOp struct {
	Kind queueindex.EntityKind
	ID   string
	Incr bool
}

func (op EntityCounterOp) Name() string { return "entity_counter" }

func (op EntityCounterOp) Apply(ctx context.Context, ix *queueindex.Index) error {
	if op.Incr {
		return ix.IncRunningEntity(ctx, op.Kind, op.ID)
	}
	return ix.DecRunningEntity(ctx, op.Kind, op.ID)
}

// CounterOp increments one of the plain dispatch counters (enqueued-child,
// job-failed, job-complete, job-delayed, context-set, job-context-set).
type CounterOp struct {
	Which string
}

func (op CounterOp) Name() string { return "counter:" + op.Which }

func (op CounterOp) Apply(ctx context.Context, ix *queueindex.Index) error {
	switch op.Which {
	case "enqueued_child":
		return ix.IncrEnqueuedChild(ctx)
	case "job_failed":
		return ix.IncrJobFailed(ctx)
	case "job_complete":
		return ix.IncrJobComplete(ctx)
	case "job_delayed":
		return ix.IncrJobDelayed(ctx)
	case "context_set":
		return ix.IncrContextSet(ctx)
	case "job_context_set":
		return ix.IncrJobContextSet(ctx)
	default:
		return nil
	}
}
