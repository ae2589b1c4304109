package experiment

import (
	"github.com/haasonsaas/splitpost/internal/engagement"
)

// ScorePolicy converts a raw engagement snapshot into a normalized score in
// [0, 1]. Policies must be monotonic in every raw signal (more engagement of
// any kind never decreases the score) and rate-based (comparable across
// variants regardless of absolute impression volume).
type ScorePolicy interface {
	Score(snapshot engagement.Snapshot) float64
}

// ScorePolicyFunc adapts a function to a ScorePolicy.
type ScorePolicyFunc func(engagement.Snapshot) float64

// Score executes the policy function.
func (f ScorePolicyFunc) Score(snapshot engagement.Snapshot) float64 {
	return f(snapshot)
}

// EngagementRate is the default policy: a weighted sum of engagement actions
// divided by impressions, clamped to [0, 1]. The weights are an
// implementation parameter; reshares weigh heaviest because they extend
// reach, replies above likes because they cost the audience more.
type EngagementRate struct {
	LikeWeight    float64
	ReshareWeight float64
	ReplyWeight   float64
}

// DefaultScorePolicy returns the stock weighting.
func DefaultScorePolicy() EngagementRate {
	return EngagementRate{
		LikeWeight:    1.0,
		ReshareWeight: 2.0,
		ReplyWeight:   1.5,
	}
}

// Score computes the weighted engagement rate. Zero impressions score zero:
// an unseen post has no measurable engagement rate.
func (p EngagementRate) Score(s engagement.Snapshot) float64 {
	if s.Impressions <= 0 {
		return 0
	}
	weighted := p.LikeWeight*float64(s.Likes) +
		p.ReshareWeight*float64(s.Reshares) +
		p.ReplyWeight*float64(s.Replies)
	rate := weighted / float64(s.Impressions)
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}
