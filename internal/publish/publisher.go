// Package publish defines the outbound publishing contract consumed by the
// experiment engine, with a structured error taxonomy that separates
// transient failures (retried with backoff) from permanent ones.
package publish

import (
	"context"
	"strings"
)

// Content is one unit of publishable content.
type Content struct {
	// Text is the post body. Required.
	Text string `json:"text"`

	// Tags are appended as hashtags where the platform supports them.
	Tags []string `json:"tags,omitempty"`

	// MediaURL optionally references an attached media asset.
	MediaURL string `json:"media_url,omitempty"`
}

// Render returns the platform-agnostic text form of the content, with tags
// appended as hashtags.
func (c Content) Render() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(c.Text))
	for _, tag := range c.Tags {
		tag = strings.TrimSpace(strings.TrimPrefix(tag, "#"))
		if tag == "" {
			continue
		}
		b.WriteString(" #")
		b.WriteString(tag)
	}
	return b.String()
}

// Publisher posts a unit of content to an external platform and returns the
// platform's identifier for the published item.
type Publisher interface {
	Publish(ctx context.Context, content Content) (contentID string, err error)
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc func(ctx context.Context, content Content) (string, error)

// Publish executes the publisher function.
func (f PublisherFunc) Publish(ctx context.Context, content Content) (string, error) {
	return f(ctx, content)
}
