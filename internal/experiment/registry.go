package experiment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/splitpost/internal/observability"
)

// Registry is the sole mutation gateway for experiments. Every write — the
// engine's state advances included — goes through it under a per-experiment
// lock, so no two actors ever mutate the same experiment concurrently and
// external readers only observe fully-committed states.
type Registry struct {
	store    Store
	defaults Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	locks    keyedLocks
}

// NewRegistry creates a registry over the given store. logger and metrics
// may be nil.
func NewRegistry(store Store, defaults Config, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Registry{
		store:    store,
		defaults: defaults.withDefaults(),
		logger:   logger.WithFields("component", "registry"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Create validates the submission and stores a new experiment in the created
// state. A nil cfg uses the registry defaults; the effective configuration is
// snapshotted so later default changes never affect this experiment.
func (r *Registry) Create(ctx context.Context, variants []Variant, campaignID string, cfg *Config) (*Experiment, error) {
	effective := r.defaults
	if cfg != nil {
		effective = cfg.withDefaults()
	}

	if strings.TrimSpace(campaignID) == "" {
		return nil, NewValidationError("campaign id is required")
	}
	if len(variants) == 0 {
		return nil, NewValidationError("at least one variant is required")
	}
	if len(variants) > effective.MaxVariants {
		return nil, NewValidationError("variant count %d exceeds maximum %d", len(variants), effective.MaxVariants)
	}
	for i, v := range variants {
		if strings.TrimSpace(v.Text) == "" {
			return nil, NewValidationError("variant %d has empty text", i+1)
		}
	}

	results := make([]VariantResult, len(variants))
	for i, v := range variants {
		results[i] = VariantResult{Variant: v}
	}

	exp := &Experiment{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		State:      StateCreated,
		Config:     effective,
		Variants:   results,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.store.Create(ctx, exp); err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "experiment created",
		"experiment_id", exp.ID,
		"campaign_id", campaignID,
		"variants", len(variants),
	)
	return exp.Clone(), nil
}

// Get returns the current view of the experiment, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Experiment, error) {
	return r.store.Get(ctx, id)
}

// List returns all experiments for a campaign, most recent first.
func (r *Registry) List(ctx context.Context, campaignID string) ([]*Experiment, error) {
	return r.store.ListByCampaign(ctx, campaignID)
}

// Counts returns the number of experiments per state.
func (r *Registry) Counts(ctx context.Context) (map[State]int, error) {
	return r.store.CountByState(ctx)
}

// Cancel transitions an eligible experiment to cancelled. Cancelling an
// already-terminal experiment is an idempotent no-op returning the existing
// terminal view. Once scoring has started the experiment is no longer
// cancellable and runs to completion; the current view is returned unchanged.
func (r *Registry) Cancel(ctx context.Context, id string) (*Experiment, error) {
	r.locks.lock(id)
	defer r.locks.unlock(id)

	exp, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exp.State.Cancellable() {
		return exp, nil
	}

	now := r.now().UTC()
	exp.State = StateCancelled
	exp.ConcludedAt = &now
	if err := r.store.Update(ctx, exp); err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "experiment cancelled", "experiment_id", id)
	if r.metrics != nil {
		r.metrics.ExperimentsConcluded.WithLabelValues("cancelled").Inc()
	}
	return exp.Clone(), nil
}

// update performs a locked read-modify-write. If mutate returns an error the
// write is discarded; errStateChanged in particular means an in-flight result
// arrived after the experiment left the expected state.
func (r *Registry) update(ctx context.Context, id string, mutate func(*Experiment) error) (*Experiment, error) {
	r.locks.lock(id)
	defer r.locks.unlock(id)

	exp, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(exp); err != nil {
		return exp, err
	}
	if err := r.store.Update(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// keyedLocks provides one mutex per experiment id.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(id string) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()
	l.Lock()
}

func (k *keyedLocks) unlock(id string) {
	k.mu.Lock()
	l := k.locks[id]
	k.mu.Unlock()
	if l != nil {
		l.Unlock()
	}
}
