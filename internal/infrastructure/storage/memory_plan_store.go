package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmint/planengine/internal/domain"
	"github.com/flowmint/planengine/internal/domain/repository"
)

var _ repository.PlanStore = (*MemoryPlanStore)(nil)

// MemoryPlanStore is an in-memory PlanStore fake for Plan Engine unit tests,
// grounded in the teacher's mutex+map MemoryStore
// (internal/infrastructure/storage/memory.go from an earlier snapshot of the
// same repo). RunInTx holds the single mutex for its whole duration, which
// stands in for GetForUpdate's row lock: a fake is allowed to over-serialize.
type MemoryPlanStore struct {
	mu    sync.Mutex
	plans map[uuid.UUID]*domain.Plan

	metadataIndex   map[string]map[uuid.UUID]string // metadataID -> planID -> queue
	collectionIndex map[string]map[uuid.UUID]string
}

// NewMemoryPlanStore constructs an empty fake store.
func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{
		plans:           make(map[uuid.UUID]*domain.Plan),
		metadataIndex:   make(map[string]map[uuid.UUID]string),
		collectionIndex: make(map[string]map[uuid.UUID]string),
	}
}

type memoryTx struct{ lockedAt time.Time }

func (t *memoryTx) LockedAt() time.Time { return t.lockedAt }

// RunInTx holds the store's mutex for the duration of fn, so GetForUpdate
// calls made inside fn observe a consistent, exclusive snapshot.
func (s *MemoryPlanStore) RunInTx(ctx context.Context, fn func(ctx context.Context, txn repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &memoryTx{lockedAt: time.Now()})
}

func clonePlan(p *domain.Plan) *domain.Plan {
	cp := *p
	cp.Jobs = append([]domain.Job(nil), p.Jobs...)
	cp.Active = cloneIntBoolMap(p.Active)
	cp.CompleteSet = cloneIntBoolMap(p.CompleteSet)
	cp.FailedSet = cloneIntBoolMap(p.FailedSet)
	return &cp
}

func cloneIntBoolMap(m map[int]bool) map[int]bool {
	if m == nil {
		return nil
	}
	out := make(map[int]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Get returns a snapshot copy with no lock.
func (s *MemoryPlanStore) Get(ctx context.Context, planID uuid.UUID) (*domain.Plan, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return nil, false, nil
	}
	return clonePlan(p), true, nil
}

// GetForUpdate returns a copy of the stored plan, read under the
// RunInTx-held mutex; changes reach the store only through Put. Callers
// must only invoke this from within RunInTx.
func (s *MemoryPlanStore) GetForUpdate(ctx context.Context, txn repository.Tx, planID uuid.UUID) (*domain.Plan, error) {
	p, ok := s.plans[planID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "plan", ID: planID.String()}
	}
	return clonePlan(p), nil
}

// Put stores a copy of plan and, when requested, accumulates secondary
// index entries. Never invoked outside RunInTx by well-behaved callers.
func (s *MemoryPlanStore) Put(ctx context.Context, txn repository.Tx, plan *domain.Plan, registerSecondaryIndexes bool) error {
	s.plans[plan.PlanID] = clonePlan(plan)

	if !registerSecondaryIndexes {
		return nil
	}
	switch plan.Binding.Kind {
	case domain.BindingMetadata:
		if s.metadataIndex[plan.Binding.MetadataID] == nil {
			s.metadataIndex[plan.Binding.MetadataID] = make(map[uuid.UUID]string)
		}
		s.metadataIndex[plan.Binding.MetadataID][plan.PlanID] = plan.Queue
	case domain.BindingCollection:
		if s.collectionIndex[plan.Binding.CollectionID] == nil {
			s.collectionIndex[plan.Binding.CollectionID] = make(map[uuid.UUID]string)
		}
		s.collectionIndex[plan.Binding.CollectionID][plan.PlanID] = plan.Queue
	}
	return nil
}

// List returns plans matching filter, newest first.
func (s *MemoryPlanStore) List(ctx context.Context, filter repository.ListFilter) ([]*domain.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Plan
	for _, p := range s.plans {
		if filter.PlanID != nil && p.PlanID != *filter.PlanID {
			continue
		}
		if filter.Queue != "" && p.Queue != filter.Queue {
			continue
		}
		if filter.WorkflowID != "" && p.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.MetadataID != "" && p.Binding.MetadataID != filter.MetadataID {
			continue
		}
		if filter.MetadataVersion != nil && (p.Binding.MetadataVersion == nil || *p.Binding.MetadataVersion != *filter.MetadataVersion) {
			continue
		}
		if filter.CollectionID != "" && p.Binding.CollectionID != filter.CollectionID {
			continue
		}
		if filter.ActiveNonEmpty && len(p.Active) == 0 {
			continue
		}
		if filter.FailedNonEmpty && len(p.FailedSet) == 0 {
			continue
		}
		if filter.ExcludeFinished && p.Finished != nil {
			continue
		}
		out = append(out, clonePlan(p))
	}

	sortPlansByEnqueuedDesc(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func sortPlansByEnqueuedDesc(plans []*domain.Plan) {
	for i := 1; i < len(plans); i++ {
		for j := i; j > 0 && plans[j].Enqueued.After(plans[j-1].Enqueued); j-- {
			plans[j], plans[j-1] = plans[j-1], plans[j]
		}
	}
}

// ListQueues returns the distinct queue names observed across all plans.
func (s *MemoryPlanStore) ListQueues(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, p := range s.plans {
		if !seen[p.Queue] {
			seen[p.Queue] = true
			out = append(out, p.Queue)
		}
	}
	return out, nil
}

// ListFailedJobIDs returns job ids drawn from non-finished plans with a
// non-empty failed set.
func (s *MemoryPlanStore) ListFailedJobIDs(ctx context.Context) ([]domain.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.JobID
	for _, p := range s.plans {
		if p.Finished != nil || len(p.FailedSet) == 0 {
			continue
		}
		for idx := range p.FailedSet {
			out = append(out, p.JobID(idx))
		}
	}
	return out, nil
}
