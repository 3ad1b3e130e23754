// Package notify sends operator alerts over Slack: rather than a first-class
// admin view, a job landing in the dead-letter queue posts a Slack message
// (see DESIGN.md's Open Question decision).
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Notifier posts operator alerts.
type Notifier interface {
	DeadLettered(ctx context.Context, taskID, toolSlug, lastError string) error
}

// SlackNotifier posts to a single incoming webhook.
type SlackNotifier struct {
	webhookURL string
}

// NewSlackNotifier returns a SlackNotifier posting to webhookURL. A blank
// webhookURL degrades DeadLettered to a silent no-op rather than an error,
// since alerting is optional.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL}
}

func (n *SlackNotifier) DeadLettered(ctx context.Context, taskID, toolSlug, lastError string) error {
	if n.webhookURL == "" {
		return nil
	}
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(":red_circle: task `%s` (tool `%s`) exhausted retries and moved to the DLQ: %s", taskID, toolSlug, lastError),
	}
	return slack.PostWebhookContext(ctx, n.webhookURL, msg)
}
