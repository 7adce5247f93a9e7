// Package expiration implements the background sweep that reclaims leases
// abandoned by dead workers (spec §4.7): every tick, for each known queue,
// move any running token whose lease has expired back onto the pending
// FIFO.
package expiration

import (
	"context"
	"sync"
	"time"

	"github.com/flowmint/planengine/internal/domain/repository"
	"github.com/flowmint/planengine/internal/infrastructure/logger"
	"github.com/flowmint/planengine/internal/infrastructure/queueindex"
)

// Period is the fixed sweep interval (spec §4.7) — not user-schedulable,
// so this runs a plain ticker rather than a cron expression.
const Period = 3 * time.Second

// Monitor periodically sweeps every queue for expired leases.
type Monitor struct {
	store repository.PlanStore
	index *queueindex.Index
	log   *logger.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMonitor constructs a Monitor. Call Start to begin ticking.
func NewMonitor(store repository.PlanStore, index *queueindex.Index, log *logger.Logger) *Monitor {
	return &Monitor{
		store: store,
		index: index,
		log:   log,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

// Stop halts the sweep loop and waits for the current tick to finish.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	queues, err := m.store.ListQueues(ctx)
	if err != nil {
		m.log.ErrorContext(ctx, "expiration sweep: failed to list queues", "error", err.Error())
		return
	}

	now := time.Now()
	for _, queue := range queues {
		n, err := m.index.SweepExpired(ctx, queue, now)
		if err != nil {
			m.log.WarnContext(ctx, "expiration sweep: queue sweep failed", "queue", queue, "error", err.Error())
			continue
		}
		if n > 0 {
			m.log.InfoContext(ctx, "expiration sweep: reclaimed expired leases", "queue", queue, "count", n)
		}
	}
}
