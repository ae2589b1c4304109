// Package engagement defines the metrics-retrieval contract for published
// content.
package engagement

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the platform has no record of the content id.
	// Not retried; the variant is scored as unavailable.
	ErrNotFound = errors.New("engagement: content not found")

	// ErrUnavailable means the metrics backend failed transiently.
	ErrUnavailable = errors.New("engagement: source unavailable")
)

// Snapshot holds raw engagement signals for one published content item.
type Snapshot struct {
	// Impressions is the reach denominator (views, or a platform proxy).
	Impressions int64 `json:"impressions"`

	// Likes counts positive reactions.
	Likes int64 `json:"likes"`

	// Reshares counts amplifications (reposts, forwards).
	Reshares int64 `json:"reshares"`

	// Replies counts direct responses.
	Replies int64 `json:"replies"`
}

// Source retrieves an engagement snapshot for a published content id.
type Source interface {
	Fetch(ctx context.Context, contentID string) (Snapshot, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(ctx context.Context, contentID string) (Snapshot, error)

// Fetch executes the source function.
func (f SourceFunc) Fetch(ctx context.Context, contentID string) (Snapshot, error) {
	return f(ctx, contentID)
}

// Retryable reports whether a fetch failure is worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
