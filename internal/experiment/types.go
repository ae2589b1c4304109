// Package experiment implements the variant experiment engine: it schedules
// publication of content variants with enforced spacing, waits out an
// evaluation window, scores engagement for each published variant, and
// deterministically selects a winner or declares the test inconclusive.
package experiment

import (
	"time"

	"github.com/haasonsaas/splitpost/internal/backoff"
	"github.com/haasonsaas/splitpost/internal/engagement"
)

// State is the lifecycle state of an experiment.
//
// Transitions are one-directional:
//
//	created → publishing → evaluating → scoring → concluded
//
// with cancelled reachable from created/publishing/evaluating and failed
// reachable from publishing (total publish failure) or scoring (total
// metric-retrieval failure). No state is ever revisited.
type State string

const (
	StateCreated    State = "created"
	StatePublishing State = "publishing"
	StateEvaluating State = "evaluating"
	StateScoring    State = "scoring"
	StateConcluded  State = "concluded"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateConcluded, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// Cancellable reports whether a cancellation request is accepted in this
// state. Scoring runs to completion rather than being interrupted, so that
// no partially-scored record is ever observable.
func (s State) Cancellable() bool {
	switch s {
	case StateCreated, StatePublishing, StateEvaluating:
		return true
	default:
		return false
	}
}

// Variant is one candidate content unit under test. Immutable once submitted.
type Variant struct {
	Text     string   `json:"text"`
	Tags     []string `json:"tags,omitempty"`
	MediaURL string   `json:"media_url,omitempty"`
}

// Config holds the experiment parameters captured at creation time. Later
// changes to global defaults never affect a running experiment.
type Config struct {
	// MaxVariants bounds the number of variants per experiment.
	MaxVariants int `json:"max_variants" yaml:"max_variants"`

	// Spacing is the minimum delay between two consecutive variant
	// publications, measured from the previous publish's completion.
	Spacing time.Duration `json:"spacing" yaml:"spacing"`

	// EvaluationWindow is how long to wait after the last successful
	// publication before scoring begins.
	EvaluationWindow time.Duration `json:"evaluation_window" yaml:"evaluation_window"`

	// EngagementThreshold is the minimum engagement rate a variant must
	// clear to be eligible as winner.
	EngagementThreshold float64 `json:"engagement_threshold" yaml:"engagement_threshold"`

	// PublishAttempts bounds publish retries per variant.
	PublishAttempts int `json:"publish_attempts" yaml:"publish_attempts"`

	// FetchAttempts bounds engagement fetch retries per variant.
	FetchAttempts int `json:"fetch_attempts" yaml:"fetch_attempts"`

	// RetryBackoff is applied to both publish and fetch retries.
	RetryBackoff backoff.Policy `json:"retry_backoff" yaml:"retry_backoff"`
}

// DefaultConfig returns the stock experiment parameters.
func DefaultConfig() Config {
	return Config{
		MaxVariants:         5,
		Spacing:             30 * time.Minute,
		EvaluationWindow:    2 * time.Hour,
		EngagementThreshold: 0.02,
		PublishAttempts:     3,
		FetchAttempts:       3,
		RetryBackoff:        backoff.DefaultPolicy(),
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxVariants <= 0 {
		c.MaxVariants = d.MaxVariants
	}
	if c.Spacing <= 0 {
		c.Spacing = d.Spacing
	}
	if c.EvaluationWindow <= 0 {
		c.EvaluationWindow = d.EvaluationWindow
	}
	if c.EngagementThreshold <= 0 {
		c.EngagementThreshold = d.EngagementThreshold
	}
	if c.PublishAttempts <= 0 {
		c.PublishAttempts = d.PublishAttempts
	}
	if c.FetchAttempts <= 0 {
		c.FetchAttempts = d.FetchAttempts
	}
	if c.RetryBackoff.Initial <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	return c
}

// VariantResult pairs a submitted variant with its publication and scoring
// outcome.
type VariantResult struct {
	Variant Variant `json:"variant"`

	// ContentID is the platform identifier, set exactly once on publish.
	ContentID string `json:"content_id,omitempty"`

	// PublishedAt records when the publish call completed.
	PublishedAt *time.Time `json:"published_at,omitempty"`

	// PublishFailed marks a variant whose retry budget was exhausted or
	// that hit a permanent error. Excluded from evaluation.
	PublishFailed bool `json:"publish_failed,omitempty"`

	// Engagement is the latest snapshot, set during scoring.
	Engagement *engagement.Snapshot `json:"engagement,omitempty"`

	// Score is the normalized engagement rate in [0, 1]. Nil until scored.
	Score *float64 `json:"score,omitempty"`

	// ScoreUnavailable marks a published variant whose metrics could not
	// be retrieved. Excluded from winner eligibility.
	ScoreUnavailable bool `json:"score_unavailable,omitempty"`
}

// Published reports whether the variant went live.
func (v *VariantResult) Published() bool {
	return v.PublishedAt != nil
}

// Experiment is the aggregate root. All mutation goes through the Registry,
// which preserves the state-machine and timestamp invariants even under
// concurrent external queries.
type Experiment struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	State      State  `json:"state"`

	// Config is the snapshot captured at creation.
	Config Config `json:"config"`

	// Variants in submission order; publication order matches.
	Variants []VariantResult `json:"variants"`

	// NextVariant indexes the next variant the scheduler will attempt.
	NextVariant int `json:"next_variant"`

	// Winner indexes the winning variant. Nil while running, and nil on
	// conclusion when no variant cleared the threshold (inconclusive).
	Winner *int `json:"winner,omitempty"`

	// FailureReason is set when the experiment reaches the failed state.
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// LastPublishedAt anchors both the spacing delay and the evaluation
	// window; recomputed waits survive process restarts.
	LastPublishedAt *time.Time `json:"last_published_at,omitempty"`

	// ConcludedAt is set when a terminal state is reached, atomically with
	// the winner/inconclusive decision.
	ConcludedAt *time.Time `json:"concluded_at,omitempty"`
}

// PublishedCount returns the number of variants that went live.
func (e *Experiment) PublishedCount() int {
	n := 0
	for i := range e.Variants {
		if e.Variants[i].Published() {
			n++
		}
	}
	return n
}

// WinnerVariant returns the winning variant result, or nil.
func (e *Experiment) WinnerVariant() *VariantResult {
	if e.Winner == nil || *e.Winner < 0 || *e.Winner >= len(e.Variants) {
		return nil
	}
	return &e.Variants[*e.Winner]
}

// NextActionAt returns when the engine next needs to act on this experiment.
// The second return is false for terminal states. Times derive from persisted
// timestamps, which is what makes long waits resumable after restart.
func (e *Experiment) NextActionAt() (time.Time, bool) {
	switch e.State {
	case StateCreated:
		return e.CreatedAt, true
	case StatePublishing:
		if e.LastPublishedAt == nil {
			return e.CreatedAt, true
		}
		return e.LastPublishedAt.Add(e.Config.Spacing), true
	case StateEvaluating:
		if e.LastPublishedAt == nil {
			return e.CreatedAt, true
		}
		return e.LastPublishedAt.Add(e.Config.EvaluationWindow), true
	case StateScoring:
		// Scoring in progress (or interrupted by a restart): due immediately.
		return time.Time{}, true
	default:
		return time.Time{}, false
	}
}

// Clone returns a deep copy, so store reads never expose shared state.
func (e *Experiment) Clone() *Experiment {
	out := *e
	out.Variants = make([]VariantResult, len(e.Variants))
	for i, v := range e.Variants {
		cv := v
		if v.Variant.Tags != nil {
			cv.Variant.Tags = append([]string(nil), v.Variant.Tags...)
		}
		if v.PublishedAt != nil {
			t := *v.PublishedAt
			cv.PublishedAt = &t
		}
		if v.Engagement != nil {
			snap := *v.Engagement
			cv.Engagement = &snap
		}
		if v.Score != nil {
			s := *v.Score
			cv.Score = &s
		}
		out.Variants[i] = cv
	}
	if e.Winner != nil {
		w := *e.Winner
		out.Winner = &w
	}
	if e.LastPublishedAt != nil {
		t := *e.LastPublishedAt
		out.LastPublishedAt = &t
	}
	if e.ConcludedAt != nil {
		t := *e.ConcludedAt
		out.ConcludedAt = &t
	}
	return &out
}
