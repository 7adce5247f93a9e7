package observer

import (
	"context"

	"github.com/flowmint/planengine/internal/infrastructure/logger"
)

// LoggerObserver records every lifecycle event at info level.
type LoggerObserver struct {
	log *logger.Logger
}

// NewLoggerObserver constructs a LoggerObserver.
func NewLoggerObserver(log *logger.Logger) *LoggerObserver {
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) Name() string { return "logger" }

func (o *LoggerObserver) OnEvent(ctx context.Context, event Event) error {
	o.log.InfoContext(ctx, "plan lifecycle event",
		"kind", string(event.Kind),
		"plan_id", event.PlanID,
		"entity_kind", event.EntityKind,
		"entity_id", event.EntityID,
	)
	return nil
}
