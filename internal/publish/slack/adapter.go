// Package slack adapts a Slack channel as both a publishing target and an
// engagement source. A posted message's timestamp serves as its content id;
// reactions and thread replies stand in for likes and replies, and the
// channel's member count approximates impressions.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/slack-go/slack"

	"github.com/haasonsaas/splitpost/internal/engagement"
	"github.com/haasonsaas/splitpost/internal/observability"
	"github.com/haasonsaas/splitpost/internal/publish"
)

// Config holds the configuration for the Slack adapter.
type Config struct {
	BotToken string `yaml:"bot_token"` // xoxb- token for API calls
	Channel  string `yaml:"channel"`   // channel id to post into
}

// APIClient defines the Slack API operations used by the adapter. The narrow
// interface allows mock injection during testing.
type APIClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetReactionsContext(ctx context.Context, item slack.ItemRef, params slack.GetReactionsParameters) ([]slack.ItemReaction, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
}

// Ensure slack.Client implements APIClient.
var _ APIClient = (*slack.Client)(nil)

// Adapter implements publish.Publisher and engagement.Source over one Slack
// channel.
type Adapter struct {
	cfg    Config
	client APIClient
	logger *observability.Logger
}

// NewAdapter creates an adapter backed by the real Slack client.
func NewAdapter(cfg Config, logger *observability.Logger) (*Adapter, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("slack: bot token is required")
	}
	if cfg.Channel == "" {
		return nil, errors.New("slack: channel is required")
	}
	return newAdapter(cfg, slack.New(cfg.BotToken), logger), nil
}

func newAdapter(cfg Config, client APIClient, logger *observability.Logger) *Adapter {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		logger: logger.WithFields("component", "slack", "channel", cfg.Channel),
	}
}

// Publish posts the content to the configured channel and returns the message
// timestamp as the content id.
func (a *Adapter) Publish(ctx context.Context, content publish.Content) (string, error) {
	_, timestamp, err := a.client.PostMessageContext(ctx, a.cfg.Channel,
		slack.MsgOptionText(content.Render(), false))
	if err != nil {
		return "", classifyPublishError(err)
	}
	a.logger.Debug(ctx, "posted message", "ts", timestamp)
	return timestamp, nil
}

// Fetch assembles an engagement snapshot for a posted message. Slack has no
// reshare concept, so Reshares stays zero.
func (a *Adapter) Fetch(ctx context.Context, contentID string) (engagement.Snapshot, error) {
	var snap engagement.Snapshot

	reactions, err := a.client.GetReactionsContext(ctx,
		slack.NewRefToMessage(a.cfg.Channel, contentID),
		slack.GetReactionsParameters{Full: true})
	if err != nil {
		return engagement.Snapshot{}, classifyFetchError(err)
	}
	for _, r := range reactions {
		snap.Likes += int64(r.Count)
	}

	replies, _, _, err := a.client.GetConversationRepliesContext(ctx,
		&slack.GetConversationRepliesParameters{
			ChannelID: a.cfg.Channel,
			Timestamp: contentID,
		})
	if err != nil {
		return engagement.Snapshot{}, classifyFetchError(err)
	}
	// The parent message is included in the thread listing.
	if len(replies) > 0 {
		snap.Replies = int64(len(replies) - 1)
	}

	info, err := a.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: a.cfg.Channel,
	})
	if err != nil {
		return engagement.Snapshot{}, classifyFetchError(err)
	}
	snap.Impressions = int64(info.NumMembers)

	return snap, nil
}

func classifyPublishError(err error) error {
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return publish.NewError(publish.ErrCodeRateLimit,
			fmt.Sprintf("rate limited, retry after %s", rateLimited.RetryAfter), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return publish.NewError(publish.ErrCodeTimeout, "request timed out", err)
		}
		return publish.NewError(publish.ErrCodeConnection, "network failure", err)
	}
	switch apiErrorCode(err) {
	case "invalid_auth", "not_authed", "account_inactive", "token_revoked":
		return publish.NewError(publish.ErrCodeAuthentication, "slack rejected credentials", err)
	case "msg_too_long", "no_text", "invalid_blocks", "restricted_action":
		return publish.NewError(publish.ErrCodeInvalidContent, "slack rejected content", err)
	case "channel_not_found", "is_archived":
		return publish.NewError(publish.ErrCodeNotFound, "channel unavailable", err)
	case "service_unavailable", "fatal_error":
		return publish.NewError(publish.ErrCodeUnavailable, "slack unavailable", err)
	}
	return publish.NewError(publish.ErrCodeInternal, "slack call failed", err)
}

func classifyFetchError(err error) error {
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return fmt.Errorf("%w: rate limited: %v", engagement.ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", engagement.ErrUnavailable, err)
	}
	switch apiErrorCode(err) {
	case "message_not_found", "channel_not_found", "thread_not_found":
		return fmt.Errorf("%w: %v", engagement.ErrNotFound, err)
	case "service_unavailable", "fatal_error", "internal_error":
		return fmt.Errorf("%w: %v", engagement.ErrUnavailable, err)
	}
	return fmt.Errorf("slack engagement fetch: %w", err)
}

// apiErrorCode extracts the Slack API error code. The client surfaces API
// failures as plain errors whose message is the code.
func apiErrorCode(err error) string {
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.Err
	}
	return strings.TrimSpace(err.Error())
}
