package experiment

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// storeFactories runs the same contract suite against every Store
// implementation.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "experiments.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			return s
		},
	}
}

func seedExperiment(id, campaignID string, createdAt time.Time) *Experiment {
	return &Experiment{
		ID:         id,
		CampaignID: campaignID,
		State:      StateCreated,
		Config:     testConfig(),
		Variants:   []VariantResult{{Variant: Variant{Text: "hello", Tags: []string{"go"}}}},
		CreatedAt:  createdAt,
	}
}

func TestStoreCreateGet(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()
			now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

			exp := seedExperiment("exp-1", "camp-1", now)
			if err := store.Create(ctx, exp); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := store.Create(ctx, exp); !errors.Is(err, ErrAlreadyExists) {
				t.Fatalf("duplicate Create err = %v, want ErrAlreadyExists", err)
			}

			got, err := store.Get(ctx, "exp-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.CampaignID != "camp-1" || got.State != StateCreated {
				t.Errorf("got %+v", got)
			}
			if !got.CreatedAt.Equal(now) {
				t.Errorf("created at = %v, want %v", got.CreatedAt, now)
			}
			if len(got.Variants) != 1 || got.Variants[0].Variant.Text != "hello" {
				t.Errorf("variants = %+v", got.Variants)
			}
			if got.Config.Spacing != testConfig().Spacing {
				t.Errorf("config spacing = %v, want %v", got.Config.Spacing, testConfig().Spacing)
			}

			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreUpdate(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()
			now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

			exp := seedExperiment("exp-1", "camp-1", now)
			if err := store.Create(ctx, exp); err != nil {
				t.Fatalf("Create: %v", err)
			}

			published := now.Add(time.Minute)
			score := 0.04
			winner := 0
			exp.State = StateConcluded
			exp.NextVariant = 1
			exp.Winner = &winner
			exp.LastPublishedAt = &published
			exp.ConcludedAt = &published
			exp.Variants[0].ContentID = "post-1"
			exp.Variants[0].PublishedAt = &published
			exp.Variants[0].Score = &score
			if err := store.Update(ctx, exp); err != nil {
				t.Fatalf("Update: %v", err)
			}

			got, err := store.Get(ctx, "exp-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.State != StateConcluded {
				t.Errorf("state = %q, want %q", got.State, StateConcluded)
			}
			if got.Winner == nil || *got.Winner != 0 {
				t.Errorf("winner = %v, want 0", got.Winner)
			}
			if got.Variants[0].ContentID != "post-1" {
				t.Errorf("content id = %q", got.Variants[0].ContentID)
			}
			if got.Variants[0].Score == nil || *got.Variants[0].Score != score {
				t.Errorf("score = %v, want %v", got.Variants[0].Score, score)
			}
			if got.LastPublishedAt == nil || !got.LastPublishedAt.Equal(published) {
				t.Errorf("last published = %v, want %v", got.LastPublishedAt, published)
			}
			if got.ConcludedAt == nil || !got.ConcludedAt.Equal(published) {
				t.Errorf("concluded = %v, want %v", got.ConcludedAt, published)
			}

			missing := seedExperiment("missing", "camp-1", now)
			if err := store.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Update missing err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreListByCampaign(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()
			now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

			for i, row := range []struct {
				id, campaign string
				offset       time.Duration
			}{
				{"exp-1", "camp-1", 0},
				{"exp-2", "camp-1", time.Minute},
				{"exp-3", "camp-2", 2 * time.Minute},
			} {
				if err := store.Create(ctx, seedExperiment(row.id, row.campaign, now.Add(row.offset))); err != nil {
					t.Fatalf("Create %d: %v", i, err)
				}
			}

			list, err := store.ListByCampaign(ctx, "camp-1")
			if err != nil {
				t.Fatalf("ListByCampaign: %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("len = %d, want 2", len(list))
			}
			if list[0].ID != "exp-2" || list[1].ID != "exp-1" {
				t.Errorf("order = [%s %s], want [exp-2 exp-1]", list[0].ID, list[1].ID)
			}

			empty, err := store.ListByCampaign(ctx, "nope")
			if err != nil {
				t.Fatalf("ListByCampaign empty: %v", err)
			}
			if len(empty) != 0 {
				t.Errorf("len = %d, want 0", len(empty))
			}
		})
	}
}

func TestStoreDue(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()
			now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

			// Created in the past: due.
			past := seedExperiment("exp-past", "camp-1", now.Add(-time.Hour))
			if err := store.Create(ctx, past); err != nil {
				t.Fatalf("Create: %v", err)
			}

			// Evaluating with the window still open: not due.
			waiting := seedExperiment("exp-waiting", "camp-1", now.Add(-time.Hour))
			waiting.State = StateEvaluating
			lastPub := now.Add(-time.Minute)
			waiting.LastPublishedAt = &lastPub
			if err := store.Create(ctx, waiting); err != nil {
				t.Fatalf("Create: %v", err)
			}

			// Terminal: never due.
			done := seedExperiment("exp-done", "camp-1", now.Add(-2*time.Hour))
			done.State = StateConcluded
			concluded := now.Add(-time.Hour)
			done.ConcludedAt = &concluded
			if err := store.Create(ctx, done); err != nil {
				t.Fatalf("Create: %v", err)
			}

			due, err := store.Due(ctx, now, 10)
			if err != nil {
				t.Fatalf("Due: %v", err)
			}
			if len(due) != 1 || due[0].ID != "exp-past" {
				ids := make([]string, len(due))
				for i, e := range due {
					ids[i] = e.ID
				}
				t.Fatalf("due = %v, want [exp-past]", ids)
			}

			// Once the evaluation window elapses the waiting one becomes due.
			later := lastPub.Add(testConfig().EvaluationWindow + time.Minute)
			due, err = store.Due(ctx, later, 10)
			if err != nil {
				t.Fatalf("Due: %v", err)
			}
			if len(due) != 2 {
				t.Fatalf("len = %d, want 2", len(due))
			}
			// Soonest first: exp-past was due an hour before exp-waiting.
			if due[0].ID != "exp-past" || due[1].ID != "exp-waiting" {
				t.Errorf("order = [%s %s], want [exp-past exp-waiting]", due[0].ID, due[1].ID)
			}

			limited, err := store.Due(ctx, later, 1)
			if err != nil {
				t.Fatalf("Due limited: %v", err)
			}
			if len(limited) != 1 {
				t.Errorf("limited len = %d, want 1", len(limited))
			}
		})
	}
}

func TestStoreCountByState(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()
			now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

			states := []State{StateCreated, StateCreated, StatePublishing, StateConcluded}
			for i, st := range states {
				exp := seedExperiment(string(rune('a'+i)), "camp-1", now)
				exp.State = st
				if err := store.Create(ctx, exp); err != nil {
					t.Fatalf("Create: %v", err)
				}
			}

			counts, err := store.CountByState(ctx)
			if err != nil {
				t.Fatalf("CountByState: %v", err)
			}
			if counts[StateCreated] != 2 || counts[StatePublishing] != 1 || counts[StateConcluded] != 1 {
				t.Errorf("counts = %v", counts)
			}
		})
	}
}

func TestMemoryStoreCloneOnRead(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, seedExperiment("exp-1", "camp-1", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.Get(ctx, "exp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.State = StateFailed
	got.Variants[0].ContentID = "tampered"

	fresh, err := store.Get(ctx, "exp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fresh.State != StateCreated || fresh.Variants[0].ContentID != "" {
		t.Error("mutation of a read result leaked into the store")
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.db")
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	exp := seedExperiment("exp-1", "camp-1", now)
	exp.State = StateEvaluating
	lastPub := now.Add(time.Hour)
	exp.LastPublishedAt = &lastPub
	if err := first.Create(ctx, exp); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	got, err := second.Get(ctx, "exp-1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.State != StateEvaluating {
		t.Errorf("state = %q, want %q", got.State, StateEvaluating)
	}
	if got.LastPublishedAt == nil || !got.LastPublishedAt.Equal(lastPub) {
		t.Errorf("last published = %v, want %v", got.LastPublishedAt, lastPub)
	}

	// The reopened store still reports the experiment due once the window
	// elapses, which is what makes waits restart-safe.
	due, err := second.Due(ctx, lastPub.Add(testConfig().EvaluationWindow+time.Minute), 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "exp-1" {
		t.Errorf("due = %v, want the reopened experiment", due)
	}
}
