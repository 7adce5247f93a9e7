// Package dispatch implements the pull-side worker entry point (spec §4.5):
// pop a token, resolve it to a live job, clean up stale queue entries along
// the way.
package dispatch

import (
	"context"
	"time"

	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/domain/repository"
	"github.com/flowmint/planengine/internal/infrastructure/logger"
	"github.com/flowmint/planengine/internal/infrastructure/queueindex"
)

// LeaseSeconds is the fixed worker lease duration (spec §6).
const LeaseSeconds = 1800

// Dispatcher pulls work for workers.
type Dispatcher struct {
	store repository.PlanStore
	index *queueindex.Index
	log   *logger.Logger
}

// New constructs a Dispatcher.
func New(store repository.PlanStore, index *queueindex.Index, log *logger.Logger) *Dispatcher {
	return &Dispatcher{store: store, index: index, log: log}
}

// Dequeue implements spec §4.5's dequeue(queue) algorithm. The returned
// JobID fully qualifies the job for the caller's subsequent heartbeat/
// complete/fail calls; it is the zero value when no job is returned.
func (d *Dispatcher) Dequeue(ctx context.Context, queue string) (*domain.Job, domain.JobID, error) {
	token, ok, err := d.index.Dequeue(ctx, queue, time.Now(), LeaseSeconds)
	if err != nil {
		return nil, domain.JobID{}, &domain.DispatchError{Op: "dequeue", Err: err}
	}
	if !ok {
		return nil, domain.JobID{}, nil
	}

	jobID, err := queueindex.ParseJobToken(token)
	if err != nil {
		d.log.Warn("dropping malformed dequeued token", "token", token, "error", err.Error())
		return nil, domain.JobID{}, nil
	}

	plan, found, err := d.store.Get(ctx, jobID.PlanID)
	if err != nil {
		return nil, domain.JobID{}, &domain.StoreError{Op: "dequeue_get_plan", Err: err}
	}
	if !found {
		d.cleanupStray(ctx, jobID)
		return nil, domain.JobID{}, nil
	}
	if plan.IsFinished() {
		d.cleanupPlan(ctx, plan)
		return nil, domain.JobID{}, nil
	}
	if jobID.Index < 0 || jobID.Index >= len(plan.Jobs) {
		d.cleanupStray(ctx, jobID)
		return nil, domain.JobID{}, nil
	}

	job := plan.Jobs[jobID.Index]
	if job.Complete {
		d.cleanupStray(ctx, jobID)
		return nil, domain.JobID{}, nil
	}

	job.Parent = plan.Parent
	return &job, jobID, nil
}

func (d *Dispatcher) cleanupStray(ctx context.Context, jobID domain.JobID) {
	if err := d.index.RemoveRunning(ctx, jobID.Queue, queueindex.JobToken(jobID)); err != nil {
		d.log.Warn("failed to clean up stray running token", "job_id", jobID, "error", err.Error())
	}
}

// cleanupPlan removes every queue entry for a finished plan's jobs.
func (d *Dispatcher) cleanupPlan(ctx context.Context, plan *domain.Plan) {
	for i := range plan.Jobs {
		jobID := plan.JobID(i)
		token := queueindex.JobToken(jobID)
		if err := d.index.RemoveRunning(ctx, jobID.Queue, token); err != nil {
			d.log.Warn("failed to remove running entry for finished plan", "job_id", jobID, "error", err.Error())
		}
		if err := d.index.CancelPending(ctx, jobID.Queue, token); err != nil {
			d.log.Warn("failed to remove pending entry for finished plan", "job_id", jobID, "error", err.Error())
		}
	}
}
