package experiment

import (
	"testing"
	"time"
)

func scoredVariant(score float64, publishedAt time.Time) VariantResult {
	s := score
	t := publishedAt
	return VariantResult{Score: &s, PublishedAt: &t}
}

func TestSelectWinner(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(30 * time.Minute)
	t2 := t0.Add(time.Hour)

	tests := []struct {
		name      string
		variants  []VariantResult
		threshold float64
		want      *int
	}{
		{
			name:      "no variants",
			variants:  nil,
			threshold: 0.02,
			want:      nil,
		},
		{
			name: "clear winner",
			variants: []VariantResult{
				scoredVariant(0.03, t0),
				scoredVariant(0.08, t1),
				scoredVariant(0.05, t2),
			},
			threshold: 0.02,
			want:      intPtr(1),
		},
		{
			name: "all below threshold",
			variants: []VariantResult{
				scoredVariant(0.01, t0),
				scoredVariant(0.015, t1),
			},
			threshold: 0.02,
			want:      nil,
		},
		{
			name: "exactly at threshold is eligible",
			variants: []VariantResult{
				scoredVariant(0.02, t0),
			},
			threshold: 0.02,
			want:      intPtr(0),
		},
		{
			name: "unscored variants skipped",
			variants: []VariantResult{
				{PublishFailed: true},
				scoredVariant(0.05, t1),
				{ScoreUnavailable: true, PublishedAt: &t2},
			},
			threshold: 0.02,
			want:      intPtr(1),
		},
		{
			name: "tie breaks to earliest published",
			variants: []VariantResult{
				scoredVariant(0.05, t1),
				scoredVariant(0.05, t0),
				scoredVariant(0.05, t2),
			},
			threshold: 0.02,
			want:      intPtr(1),
		},
		{
			name: "near-tie within tolerance breaks to earliest",
			variants: []VariantResult{
				scoredVariant(0.05, t1),
				scoredVariant(0.05+1e-12, t0),
			},
			threshold: 0.02,
			want:      intPtr(1),
		},
		{
			name: "difference beyond tolerance wins outright",
			variants: []VariantResult{
				scoredVariant(0.05, t0),
				scoredVariant(0.051, t2),
			},
			threshold: 0.02,
			want:      intPtr(1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectWinner(tt.variants, tt.threshold)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("winner = %v, want %v", fmtPtr(got), fmtPtr(tt.want))
			}
			if got != nil && *got != *tt.want {
				t.Errorf("winner = %d, want %d", *got, *tt.want)
			}
		})
	}
}

func TestSelectWinnerDeterministic(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	vs := []VariantResult{
		scoredVariant(0.04, t0),
		scoredVariant(0.04, t0.Add(time.Hour)),
		scoredVariant(0.03, t0.Add(2*time.Hour)),
	}
	first := selectWinner(vs, 0.02)
	for i := 0; i < 100; i++ {
		got := selectWinner(vs, 0.02)
		if got == nil || first == nil || *got != *first {
			t.Fatalf("selection not stable: %v vs %v", fmtPtr(got), fmtPtr(first))
		}
	}
}

func intPtr(v int) *int { return &v }

func fmtPtr(v *int) any {
	if v == nil {
		return "nil"
	}
	return *v
}
