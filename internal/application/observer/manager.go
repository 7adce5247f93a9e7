package observer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/flowmint/planengine/internal/domain/repository"
	"github.com/flowmint/planengine/internal/infrastructure/logger"
)

var _ repository.Notifier = (*Manager)(nil)

// Manager fans lifecycle notifications out to its registered observers,
// one goroutine per observer per event, panic-isolated.
type Manager struct {
	mu        sync.RWMutex
	observers []Observer
	log       *logger.Logger
}

// NewManager constructs an empty Manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{log: log}
}

// Register adds an observer, rejecting duplicate names.
func (m *Manager) Register(obs Observer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.observers {
		if o.Name() == obs.Name() {
			return fmt.Errorf("observer with name %q already registered", obs.Name())
		}
	}
	m.observers = append(m.observers, obs)
	return nil
}

// PlanFinished implements repository.Notifier.
func (m *Manager) PlanFinished(ctx context.Context, planID uuid.UUID) {
	m.notify(ctx, Event{Kind: KindPlanFinished, PlanID: planID.String()})
}

// PlanFailed implements repository.Notifier.
func (m *Manager) PlanFailed(ctx context.Context, planID uuid.UUID) {
	m.notify(ctx, Event{Kind: KindPlanFailed, PlanID: planID.String()})
}

// EntityChanged implements repository.Notifier.
func (m *Manager) EntityChanged(ctx context.Context, kind, id string) {
	m.notify(ctx, Event{Kind: KindEntityChanged, EntityKind: kind, EntityID: id})
}

func (m *Manager) notify(ctx context.Context, event Event) {
	m.mu.RLock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()

	for _, obs := range observers {
		go m.deliver(ctx, obs, event)
	}
}

func (m *Manager) deliver(ctx context.Context, obs Observer, event Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.ErrorContext(ctx, "observer panic recovered",
				"observer", obs.Name(), "kind", string(event.Kind), "panic", r)
		}
	}()

	if err := obs.OnEvent(ctx, event); err != nil {
		m.log.ErrorContext(ctx, "observer notification failed",
			"observer", obs.Name(), "kind", string(event.Kind), "error", err.Error())
	}
}
