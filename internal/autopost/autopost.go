// Package autopost launches experiments on a cron schedule: each job
// generates fresh variants for its campaign and submits them, so recurring
// content tests run without manual kick-off.
package autopost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/splitpost/internal/experiment"
	"github.com/haasonsaas/splitpost/internal/generate"
	"github.com/haasonsaas/splitpost/internal/observability"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Job describes one recurring experiment launch.
type Job struct {
	// Name identifies the job in logs.
	Name string `yaml:"name"`

	// Schedule is a cron expression (seconds field optional, descriptors
	// like @daily accepted).
	Schedule string `yaml:"schedule"`

	// CampaignID groups the experiments this job creates.
	CampaignID string `yaml:"campaign_id"`

	// Topic and Tone steer variant generation.
	Topic string `yaml:"topic"`
	Tone  string `yaml:"tone,omitempty"`

	// Variants is the number of variants per experiment.
	Variants int `yaml:"variants"`

	// Tags are attached to every generated variant.
	Tags []string `yaml:"tags,omitempty"`
}

// Validate checks the job definition and parses its schedule.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("autopost: job name is required")
	}
	if j.CampaignID == "" {
		return fmt.Errorf("autopost: job %q: campaign id is required", j.Name)
	}
	if j.Topic == "" {
		return fmt.Errorf("autopost: job %q: topic is required", j.Name)
	}
	if _, err := cronParser.Parse(j.Schedule); err != nil {
		return fmt.Errorf("autopost: job %q: invalid schedule %q: %w", j.Name, j.Schedule, err)
	}
	return nil
}

type jobState struct {
	job      Job
	schedule cron.Schedule
	nextRun  time.Time
}

// Runner evaluates job schedules on a fixed tick and launches due experiments.
type Runner struct {
	registry  *experiment.Registry
	generator generate.Generator
	logger    *observability.Logger

	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	jobs    []*jobState
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger *observability.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger.WithFields("component", "autopost")
		}
	}
}

// WithClock overrides the clock for tests.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTickInterval overrides the schedule evaluation interval.
func WithTickInterval(interval time.Duration) RunnerOption {
	return func(r *Runner) {
		if interval > 0 {
			r.tickInterval = interval
		}
	}
}

// NewRunner creates a runner for the given jobs. Every job must validate.
func NewRunner(registry *experiment.Registry, generator generate.Generator, jobs []Job, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		registry:     registry,
		generator:    generator,
		logger:       observability.NewLogger(observability.LogConfig{}).WithFields("component", "autopost"),
		now:          time.Now,
		tickInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, err
		}
		schedule, err := cronParser.Parse(job.Schedule)
		if err != nil {
			return nil, err
		}
		r.jobs = append(r.jobs, &jobState{
			job:      job,
			schedule: schedule,
			nextRun:  schedule.Next(r.now()),
		})
	}
	return r, nil
}

// Start begins schedule evaluation until the context is cancelled or Stop is
// called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.logger.Info(ctx, "starting autopost runner", "jobs", len(r.jobs))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Tick(ctx)
			}
		}
	}()
	return nil
}

// Stop halts schedule evaluation and waits for in-flight launches.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick launches every job whose next run time has arrived and returns how
// many fired. Exported so tests can step the runner with a fake clock.
func (r *Runner) Tick(ctx context.Context) int {
	now := r.now()
	fired := 0

	r.mu.Lock()
	var due []*jobState
	for _, js := range r.jobs {
		if !js.nextRun.After(now) {
			due = append(due, js)
			js.nextRun = js.schedule.Next(now)
		}
	}
	r.mu.Unlock()

	for _, js := range due {
		if ctx.Err() != nil {
			break
		}
		if err := r.launch(ctx, js.job); err != nil {
			r.logger.Error(ctx, "autopost launch failed", "job", js.job.Name, "error", err)
			continue
		}
		fired++
	}
	return fired
}

// RunOnce launches the named job immediately, outside its schedule.
func (r *Runner) RunOnce(ctx context.Context, name string) error {
	r.mu.Lock()
	var job *Job
	for _, js := range r.jobs {
		if js.job.Name == name {
			j := js.job
			job = &j
			break
		}
	}
	r.mu.Unlock()

	if job == nil {
		return fmt.Errorf("autopost: no job named %q", name)
	}
	return r.launch(ctx, *job)
}

func (r *Runner) launch(ctx context.Context, job Job) error {
	variants, err := r.generator.Variants(ctx, generate.Request{
		Topic: job.Topic,
		Tone:  job.Tone,
		Count: job.Variants,
		Tags:  job.Tags,
	})
	if err != nil {
		return fmt.Errorf("generate variants: %w", err)
	}

	exp, err := r.registry.Create(ctx, variants, job.CampaignID, nil)
	if err != nil {
		return fmt.Errorf("create experiment: %w", err)
	}
	r.logger.Info(ctx, "autopost experiment launched",
		"job", job.Name,
		"experiment_id", exp.ID,
		"campaign_id", job.CampaignID,
		"variants", len(variants),
	)
	return nil
}
