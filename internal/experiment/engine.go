package experiment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/splitpost/internal/backoff"
	"github.com/haasonsaas/splitpost/internal/engagement"
	"github.com/haasonsaas/splitpost/internal/observability"
	"github.com/haasonsaas/splitpost/internal/publish"
)

// Engine drives experiment lifecycles. It polls the store for experiments
// whose next action time has arrived and advances each one; because due times
// derive from persisted timestamps, spacing delays and evaluation windows are
// recomputed after a restart rather than restarted, and no goroutine is
// parked per experiment.
//
// Within one experiment all work is strictly sequential: publishing, waiting,
// scoring, and conclusion never overlap. Distinct experiments advance
// independently.
type Engine struct {
	registry  *Registry
	publisher publish.Publisher
	source    engagement.Source
	policy    ScorePolicy
	logger    *observability.Logger
	metrics   *observability.Metrics

	now          func() time.Time
	tickInterval time.Duration
	batchSize    int

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *observability.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger.WithFields("component", "engine")
		}
	}
}

// WithMetrics sets the engine metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithScorePolicy overrides the default engagement-rate policy.
func WithScorePolicy(policy ScorePolicy) Option {
	return func(e *Engine) {
		if policy != nil {
			e.policy = policy
		}
	}
}

// WithClock overrides the clock for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTickInterval overrides the poll interval.
func WithTickInterval(interval time.Duration) Option {
	return func(e *Engine) {
		if interval > 0 {
			e.tickInterval = interval
		}
	}
}

// NewEngine creates an engine over the registry and its collaborators.
func NewEngine(registry *Registry, publisher publish.Publisher, source engagement.Source, opts ...Option) *Engine {
	e := &Engine{
		registry:     registry,
		publisher:    publisher,
		source:       source,
		policy:       DefaultScorePolicy(),
		logger:       observability.NewLogger(observability.LogConfig{}).WithFields("component", "engine"),
		now:          time.Now,
		tickInterval: 10 * time.Second,
		batchSize:    50,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins the poll loop until the context is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.logger.Info(ctx, "starting experiment engine", "tick_interval", e.tickInterval)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.tickInterval)
		defer ticker.Stop()
		e.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Tick(ctx)
			}
		}
	}()
	return nil
}

// Stop halts the poll loop and waits for in-flight work to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick processes all currently-due experiments once and returns how many were
// advanced. Exported so tests can step the engine with a fake clock.
func (e *Engine) Tick(ctx context.Context) int {
	now := e.now()
	due, err := e.registry.store.Due(ctx, now, e.batchSize)
	if err != nil {
		e.logger.Error(ctx, "due query failed", "error", err)
		return 0
	}

	count := 0
	for _, exp := range due {
		if ctx.Err() != nil {
			break
		}
		e.advance(ctx, exp)
		count++
	}
	e.updateActiveGauge(ctx)
	return count
}

func (e *Engine) advance(ctx context.Context, exp *Experiment) {
	switch exp.State {
	case StateCreated:
		e.beginPublishing(ctx, exp.ID)
	case StatePublishing:
		e.publishNext(ctx, exp.ID)
	case StateEvaluating:
		e.beginScoring(ctx, exp.ID)
	case StateScoring:
		// Resuming after a crash mid-scoring.
		e.score(ctx, exp.ID)
	}
}

func (e *Engine) beginPublishing(ctx context.Context, id string) {
	_, err := e.registry.update(ctx, id, func(exp *Experiment) error {
		if exp.State != StateCreated {
			return errStateChanged
		}
		exp.State = StatePublishing
		return nil
	})
	if err != nil {
		return
	}
	e.logger.Info(ctx, "experiment publishing", "experiment_id", id)
	// The first variant has no spacing requirement; publish it now.
	e.publishNext(ctx, id)
}

// publishNext publishes the next unattempted variant. The external call runs
// outside the experiment lock so a cancellation can land mid-flight; its
// result is then discarded rather than recorded.
func (e *Engine) publishNext(ctx context.Context, id string) {
	exp, err := e.registry.Get(ctx, id)
	if err != nil || exp.State != StatePublishing {
		return
	}
	idx := exp.NextVariant
	if idx >= len(exp.Variants) {
		return
	}
	variant := exp.Variants[idx].Variant
	cfg := exp.Config

	content := publish.Content{Text: variant.Text, Tags: variant.Tags, MediaURL: variant.MediaURL}
	start := e.now()
	contentID, pubErr := backoff.Retry(ctx, cfg.RetryBackoff, cfg.PublishAttempts, publish.IsRetryable,
		func(attempt int) (string, error) {
			if attempt > 1 && e.metrics != nil {
				e.metrics.PublishCounter.WithLabelValues("retry").Inc()
			}
			return e.publisher.Publish(ctx, content)
		})
	if e.metrics != nil {
		e.metrics.PublishDuration.Observe(e.now().Sub(start).Seconds())
	}

	// Engine shutdown mid-publish: record nothing, resume after restart.
	if ctx.Err() != nil {
		e.logger.Warn(ctx, "publish interrupted", "experiment_id", id, "variant", idx)
		return
	}

	_, err = e.registry.update(ctx, id, func(cur *Experiment) error {
		if cur.State != StatePublishing || cur.NextVariant != idx {
			return errStateChanged
		}
		res := &cur.Variants[idx]
		if pubErr != nil {
			res.PublishFailed = true
		} else {
			now := e.now().UTC()
			res.ContentID = contentID
			res.PublishedAt = &now
			cur.LastPublishedAt = &now
		}
		cur.NextVariant++
		if cur.NextVariant >= len(cur.Variants) {
			if cur.PublishedCount() > 0 {
				cur.State = StateEvaluating
			} else {
				now := e.now().UTC()
				cur.State = StateFailed
				cur.FailureReason = "all variants failed to publish"
				cur.ConcludedAt = &now
			}
		}
		return nil
	})
	if errors.Is(err, errStateChanged) {
		e.logger.Info(ctx, "publish result discarded", "experiment_id", id, "variant", idx)
		return
	}
	if err != nil {
		e.logger.Error(ctx, "publish bookkeeping failed", "experiment_id", id, "error", err)
		return
	}

	if pubErr != nil {
		e.logger.Warn(ctx, "variant publish failed",
			"experiment_id", id, "variant", idx, "error", pubErr)
		if e.metrics != nil {
			e.metrics.PublishCounter.WithLabelValues("failed").Inc()
		}
	} else {
		e.logger.Info(ctx, "variant published",
			"experiment_id", id, "variant", idx, "content_id", contentID)
		if e.metrics != nil {
			e.metrics.PublishCounter.WithLabelValues("success").Inc()
		}
	}

	if exp, err := e.registry.Get(ctx, id); err == nil && exp.State == StateFailed {
		e.logger.Error(ctx, "experiment failed", "experiment_id", id, "reason", exp.FailureReason)
		if e.metrics != nil {
			e.metrics.ExperimentsConcluded.WithLabelValues("failed").Inc()
		}
	}
}

func (e *Engine) beginScoring(ctx context.Context, id string) {
	var waited time.Duration
	_, err := e.registry.update(ctx, id, func(exp *Experiment) error {
		if exp.State != StateEvaluating {
			return errStateChanged
		}
		if exp.LastPublishedAt != nil {
			waited = e.now().Sub(*exp.LastPublishedAt)
		}
		exp.State = StateScoring
		return nil
	})
	if err != nil {
		return
	}
	e.logger.Info(ctx, "evaluation window elapsed", "experiment_id", id, "waited", waited)
	if e.metrics != nil {
		e.metrics.EvaluationWait.Observe(waited.Seconds())
	}
	e.score(ctx, id)
}

// score fetches engagement for every published variant, computes scores, and
// concludes the experiment. The winner decision and conclusion timestamp are
// persisted in a single update, so no reader ever observes one without the
// other.
func (e *Engine) score(ctx context.Context, id string) {
	exp, err := e.registry.Get(ctx, id)
	if err != nil || exp.State != StateScoring {
		return
	}
	cfg := exp.Config

	type scored struct {
		snapshot    engagement.Snapshot
		score       float64
		unavailable bool
	}
	results := make(map[int]scored)
	for i := range exp.Variants {
		v := &exp.Variants[i]
		if !v.Published() {
			continue
		}
		snap, fetchErr := backoff.Retry(ctx, cfg.RetryBackoff, cfg.FetchAttempts, engagement.Retryable,
			func(int) (engagement.Snapshot, error) {
				return e.source.Fetch(ctx, v.ContentID)
			})
		if ctx.Err() != nil {
			// Interrupted mid-scoring; the experiment stays in scoring and
			// resumes on the next run.
			return
		}
		if fetchErr != nil {
			e.logger.Warn(ctx, "engagement unavailable",
				"experiment_id", id, "variant", i, "content_id", v.ContentID, "error", fetchErr)
			if e.metrics != nil {
				e.metrics.EngagementFetchCounter.WithLabelValues("unavailable").Inc()
			}
			results[i] = scored{unavailable: true}
			continue
		}
		if e.metrics != nil {
			e.metrics.EngagementFetchCounter.WithLabelValues("success").Inc()
		}
		results[i] = scored{snapshot: snap, score: e.policy.Score(snap)}
	}

	var outcome string
	_, err = e.registry.update(ctx, id, func(cur *Experiment) error {
		if cur.State != StateScoring {
			return errStateChanged
		}
		available := 0
		for i, res := range results {
			v := &cur.Variants[i]
			if res.unavailable {
				v.ScoreUnavailable = true
				continue
			}
			snap := res.snapshot
			score := res.score
			v.Engagement = &snap
			v.Score = &score
			available++
		}

		now := e.now().UTC()
		if available == 0 {
			cur.State = StateFailed
			cur.FailureReason = "engagement unavailable for all variants"
			cur.ConcludedAt = &now
			outcome = "failed"
			return nil
		}

		cur.Winner = selectWinner(cur.Variants, cur.Config.EngagementThreshold)
		cur.State = StateConcluded
		cur.ConcludedAt = &now
		if cur.Winner != nil {
			outcome = "winner"
		} else {
			outcome = "inconclusive"
		}
		return nil
	})
	if err != nil {
		return
	}

	e.logger.Info(ctx, "experiment concluded", "experiment_id", id, "outcome", outcome)
	if e.metrics != nil {
		e.metrics.ExperimentsConcluded.WithLabelValues(outcome).Inc()
	}
}

func (e *Engine) updateActiveGauge(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	counts, err := e.registry.store.CountByState(ctx)
	if err != nil {
		return
	}
	for _, state := range []State{StateCreated, StatePublishing, StateEvaluating, StateScoring} {
		e.metrics.ExperimentsActive.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
