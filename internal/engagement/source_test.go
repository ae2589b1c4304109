package engagement

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unavailable", err: ErrUnavailable, want: true},
		{name: "wrapped unavailable", err: fmt.Errorf("fetch: %w", ErrUnavailable), want: true},
		{name: "not found", err: ErrNotFound, want: false},
		{name: "arbitrary", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSourceFunc(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, contentID string) (Snapshot, error) {
		if contentID != "post-1" {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{Impressions: 10, Likes: 2}, nil
	})

	snap, err := src.Fetch(context.Background(), "post-1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Likes != 2 {
		t.Errorf("likes = %d, want 2", snap.Likes)
	}
	if _, err := src.Fetch(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
