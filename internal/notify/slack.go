// Package notify implements the optional operational alert path for events
// the core raises but does not deliver itself.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// SlackNotifier posts operational alerts to a Slack channel. It implements
// pkg/keys.AlertNotifier.
type SlackNotifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier creates a SlackNotifier. If botToken is empty, the
// notifier is a noop (logging only); Slack is optional.
func NewSlackNotifier(botToken, channel string, logger *slog.Logger) *SlackNotifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackNotifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a usable Slack client.
func (n *SlackNotifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NotifyKeyRotationFailed posts the alert the lifecycle manager emits after
// exhausting its rotation retries.
func (n *SlackNotifier) NotifyKeyRotationFailed(ctx context.Context, reason string) error {
	if !n.IsEnabled() {
		n.logger.Warn("key rotation failed (slack notifier disabled)", "reason", reason)
		return nil
	}

	text := fmt.Sprintf(":rotating_light: Signing key rotation failed: %s", reason)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting KeyRotationFailed alert to slack: %w", err)
	}
	return nil
}
