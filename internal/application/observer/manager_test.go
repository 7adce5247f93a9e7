package observer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmint/planengine/internal/config"
	"github.com/flowmint/planengine/internal/infrastructure/logger"
)

type recordingObserver struct {
	name    string
	mu      sync.Mutex
	events  []Event
	panics  bool
}

func (r *recordingObserver) Name() string { return r.name }

func (r *recordingObserver) OnEvent(ctx context.Context, event Event) error {
	if r.panics {
		panic("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestManager() *Manager {
	return NewManager(logger.New(config.LoggingConfig{Level: "error", Format: "text"}))
}

func TestManager_PlanFinished_DeliversToAllObservers(t *testing.T) {
	m := newTestManager()
	a := &recordingObserver{name: "a"}
	b := &recordingObserver{name: "b"}
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	m.PlanFinished(context.Background(), uuid.New())

	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestManager_Register_RejectsDuplicateName(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.Register(&recordingObserver{name: "dup"}))
	err := m.Register(&recordingObserver{name: "dup"})
	assert.Error(t, err)
}

func TestManager_PanicInOneObserverDoesNotAffectOthers(t *testing.T) {
	m := newTestManager()
	bad := &recordingObserver{name: "bad", panics: true}
	good := &recordingObserver{name: "good"}
	require.NoError(t, m.Register(bad))
	require.NoError(t, m.Register(good))

	m.PlanFailed(context.Background(), uuid.New())

	require.Eventually(t, func() bool { return good.count() == 1 }, time.Second, 5*time.Millisecond)
}
