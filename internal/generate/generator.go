// Package generate produces candidate content variants for a campaign, so
// scheduled experiments can be launched without hand-written copy.
package generate

import (
	"context"

	"github.com/haasonsaas/splitpost/internal/experiment"
)

// Request describes the variants to generate.
type Request struct {
	// Topic is the subject the variants should cover.
	Topic string

	// Tone optionally steers the writing style (e.g. "playful", "formal").
	Tone string

	// Count is the number of variants to produce.
	Count int

	// Tags are attached verbatim to every generated variant.
	Tags []string
}

// Generator produces content variants.
type Generator interface {
	Variants(ctx context.Context, req Request) ([]experiment.Variant, error)
}

// GeneratorFunc adapts a function to a Generator.
type GeneratorFunc func(ctx context.Context, req Request) ([]experiment.Variant, error)

// Variants executes the generator function.
func (f GeneratorFunc) Variants(ctx context.Context, req Request) ([]experiment.Variant, error) {
	return f(ctx, req)
}

// Static returns a generator serving a fixed variant list, useful for tests
// and for campaigns whose copy is authored up front.
func Static(variants []experiment.Variant) Generator {
	return GeneratorFunc(func(ctx context.Context, req Request) ([]experiment.Variant, error) {
		out := make([]experiment.Variant, len(variants))
		copy(out, variants)
		return out, nil
	})
}
