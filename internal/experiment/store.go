package experiment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrAlreadyExists is returned when creating an experiment with a taken id.
var ErrAlreadyExists = errors.New("experiment already exists")

// Store persists experiment records. Implementations must be safe for
// concurrent use and must never hand out aliased state: reads return copies.
type Store interface {
	// Create stores a new experiment. Fails with ErrAlreadyExists on id reuse.
	Create(ctx context.Context, exp *Experiment) error

	// Get returns the experiment by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Experiment, error)

	// Update replaces the stored record.
	Update(ctx context.Context, exp *Experiment) error

	// ListByCampaign returns all experiments for a campaign, most recent
	// first. Terminal experiments remain listed indefinitely.
	ListByCampaign(ctx context.Context, campaignID string) ([]*Experiment, error)

	// Due returns non-terminal experiments whose next action time has
	// arrived, soonest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*Experiment, error)

	// CountByState returns the number of experiments per state.
	CountByState(ctx context.Context) (map[State]int, error)

	// Close releases underlying resources.
	Close() error
}

// MemoryStore keeps experiments in memory with clone-on-read semantics.
// Suitable for tests and single-run usage; durability requires SQLiteStore.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment
	order       []string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]*Experiment),
	}
}

// Create stores a new experiment.
func (s *MemoryStore) Create(ctx context.Context, exp *Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.experiments[exp.ID]; exists {
		return ErrAlreadyExists
	}
	s.experiments[exp.ID] = exp.Clone()
	s.order = append(s.order, exp.ID)
	return nil
}

// Get returns a copy of the experiment by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return exp.Clone(), nil
}

// Update replaces the stored record.
func (s *MemoryStore) Update(ctx context.Context, exp *Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[exp.ID]; !ok {
		return ErrNotFound
	}
	s.experiments[exp.ID] = exp.Clone()
	return nil
}

// ListByCampaign returns the campaign's experiments, most recent first.
func (s *MemoryStore) ListByCampaign(ctx context.Context, campaignID string) ([]*Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Experiment
	for _, id := range s.order {
		exp := s.experiments[id]
		if exp.CampaignID == campaignID {
			out = append(out, exp.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Due returns non-terminal experiments whose next action time has arrived.
func (s *MemoryStore) Due(ctx context.Context, now time.Time, limit int) ([]*Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type dueEntry struct {
		exp *Experiment
		at  time.Time
	}
	var due []dueEntry
	for _, id := range s.order {
		exp := s.experiments[id]
		at, ok := exp.NextActionAt()
		if !ok || at.After(now) {
			continue
		}
		due = append(due, dueEntry{exp: exp.Clone(), at: at})
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*Experiment, len(due))
	for i, d := range due {
		out[i] = d.exp
	}
	return out, nil
}

// CountByState returns the number of experiments per state.
func (s *MemoryStore) CountByState(ctx context.Context) (map[State]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[State]int)
	for _, exp := range s.experiments {
		counts[exp.State]++
	}
	return counts, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
