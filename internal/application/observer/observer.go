// Package observer fans plan lifecycle notifications (spec §6's Notifier)
// out to registered observers, non-blocking and panic-isolated per observer,
// grounded in the teacher's ObserverManager/Observer pair.
package observer

import (
	"context"
)

// Kind names the lifecycle event being published.
type Kind string

const (
	KindPlanFinished   Kind = "plan_finished"
	KindPlanFailed     Kind = "plan_failed"
	KindEntityChanged  Kind = "entity_changed"
)

// Event is the payload delivered to every registered Observer.
type Event struct {
	Kind       Kind
	PlanID     string
	EntityKind string
	EntityID   string
}

// Observer receives plan lifecycle events.
type Observer interface {
	Name() string
	OnEvent(ctx context.Context, event Event) error
}
