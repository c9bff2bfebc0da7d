package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// SlackPublisher posts artifacts to a Slack channel.
type SlackPublisher struct {
	api     *slack.Client
	channel string
}

// NewSlackPublisher creates a publisher using a bot token. apiBase overrides
// the Slack API endpoint (empty = default).
func NewSlackPublisher(botToken, channel, apiBase string) (*SlackPublisher, error) {
	if strings.TrimSpace(botToken) == "" {
		return nil, fmt.Errorf("missing slack bot token")
	}
	opts := []slack.Option{}
	if strings.TrimSpace(apiBase) != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(apiBase, "/")+"/"))
	}
	return &SlackPublisher{
		api:     slack.New(botToken, opts...),
		channel: channel,
	}, nil
}

// Name implements Publisher.
func (p *SlackPublisher) Name() string { return "slack" }

// Publish implements Publisher.
func (p *SlackPublisher) Publish(ctx context.Context, a *Artifact) error {
	text := fmt.Sprintf("*%s*\n%s", a.Title, a.Content)
	_, _, err := p.api.PostMessageContext(ctx, p.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}
