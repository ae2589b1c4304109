package experiment

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	reg := NewRegistry(NewMemoryStore(), testConfig(), nil, nil)
	reg.now = clock.Now
	return reg, clock
}

func TestRegistryCreateValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		variants   []Variant
		campaignID string
		wantReason string
	}{
		{
			name:       "empty campaign",
			variants:   variants("a"),
			campaignID: "  ",
			wantReason: "campaign id",
		},
		{
			name:       "no variants",
			variants:   nil,
			campaignID: "camp-1",
			wantReason: "at least one variant",
		},
		{
			name:       "too many variants",
			variants:   variants("a", "b", "c", "d", "e", "f"),
			campaignID: "camp-1",
			wantReason: "exceeds maximum",
		},
		{
			name:       "blank variant text",
			variants:   []Variant{{Text: "ok"}, {Text: "   "}},
			campaignID: "camp-1",
			wantReason: "empty text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Create(ctx, tt.variants, tt.campaignID, nil)
			if !IsValidation(err) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantReason) {
				t.Errorf("error %q does not mention %q", err, tt.wantReason)
			}
		})
	}
}

func TestRegistryCreateSnapshotsConfig(t *testing.T) {
	reg, clock := newTestRegistry(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.Spacing = 5 * time.Minute
	exp, err := reg.Create(ctx, variants("a"), "camp-1", &cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if exp.State != StateCreated {
		t.Errorf("state = %q, want %q", exp.State, StateCreated)
	}
	if exp.Config.Spacing != 5*time.Minute {
		t.Errorf("spacing = %v, want 5m", exp.Config.Spacing)
	}
	if exp.ID == "" {
		t.Error("id not assigned")
	}
	if !exp.CreatedAt.Equal(clock.Now()) {
		t.Errorf("created at = %v, want %v", exp.CreatedAt, clock.Now())
	}

	// Mutating the caller's config after creation must not leak in.
	cfg.Spacing = time.Hour
	got, err := reg.Get(ctx, exp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Config.Spacing != 5*time.Minute {
		t.Errorf("stored spacing = %v, want 5m", got.Config.Spacing)
	}
}

func TestRegistryCreateFillsDefaults(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	exp, err := reg.Create(ctx, variants("a"), "camp-1", &Config{Spacing: time.Minute})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if exp.Config.Spacing != time.Minute {
		t.Errorf("spacing = %v, want 1m", exp.Config.Spacing)
	}
	if exp.Config.MaxVariants != DefaultConfig().MaxVariants {
		t.Errorf("max variants = %d, want default %d", exp.Config.MaxVariants, DefaultConfig().MaxVariants)
	}
	if exp.Config.EvaluationWindow != DefaultConfig().EvaluationWindow {
		t.Errorf("evaluation window = %v, want default", exp.Config.EvaluationWindow)
	}
}

func TestRegistryGetNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRegistryCancelStates(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		state     State
		wantState State
	}{
		{StateCreated, StateCancelled},
		{StatePublishing, StateCancelled},
		{StateEvaluating, StateCancelled},
		{StateScoring, StateScoring},
		{StateConcluded, StateConcluded},
		{StateCancelled, StateCancelled},
		{StateFailed, StateFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			reg, _ := newTestRegistry(t)
			exp, err := reg.Create(ctx, variants("a"), "camp-1", nil)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if _, err := reg.update(ctx, exp.ID, func(e *Experiment) error {
				e.State = tt.state
				return nil
			}); err != nil {
				t.Fatalf("seed state: %v", err)
			}

			got, err := reg.Cancel(ctx, exp.ID)
			if err != nil {
				t.Fatalf("Cancel: %v", err)
			}
			if got.State != tt.wantState {
				t.Errorf("state = %q, want %q", got.State, tt.wantState)
			}
			if tt.wantState == StateCancelled && got.ConcludedAt == nil && tt.state != StateCancelled {
				t.Error("ConcludedAt not set on cancellation")
			}
		})
	}
}

func TestRegistryCancelIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	exp, err := reg.Create(ctx, variants("a"), "camp-1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	first, err := reg.Cancel(ctx, exp.ID)
	if err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	second, err := reg.Cancel(ctx, exp.ID)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if second.State != StateCancelled {
		t.Errorf("state = %q, want %q", second.State, StateCancelled)
	}
	if !second.ConcludedAt.Equal(*first.ConcludedAt) {
		t.Errorf("ConcludedAt changed on repeat cancel: %v vs %v", second.ConcludedAt, first.ConcludedAt)
	}
}

func TestRegistryListByCampaign(t *testing.T) {
	reg, clock := newTestRegistry(t)
	ctx := context.Background()

	a, _ := reg.Create(ctx, variants("a"), "camp-1", nil)
	clock.Advance(time.Minute)
	b, _ := reg.Create(ctx, variants("b"), "camp-1", nil)
	clock.Advance(time.Minute)
	if _, err := reg.Create(ctx, variants("c"), "camp-2", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := reg.List(ctx, "camp-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != b.ID || list[1].ID != a.ID {
		t.Errorf("order = [%s %s], want most recent first [%s %s]",
			list[0].ID, list[1].ID, b.ID, a.ID)
	}
}
