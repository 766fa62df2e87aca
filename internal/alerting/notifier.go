package alerting

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"github.com/radiowatch/radiowatch/internal/database"
)

// Notifier dispatches alert transitions to an external channel.
// Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(t AlertTransition) error
}

// LogNotifier writes transitions to the process log. It is the
// fallback when no Slack credentials are configured.
type LogNotifier struct{}

func (LogNotifier) Notify(t AlertTransition) error {
	log.Printf("ALERT [%s] rule=%s severity=%s value=%g threshold=%g", t.Type, t.RuleName, t.Severity, t.MetricValue, t.Threshold)
	return nil
}

// SlackNotifier posts alert transitions to a Slack channel
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier creates a notifier posting to the given channel
func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
	}
}

// Notify posts one transition message
func (n *SlackNotifier) Notify(t AlertTransition) error {
	_, _, err := n.client.PostMessage(
		n.channel,
		slack.MsgOptionText(formatMessage(t), false),
	)
	if err != nil {
		return fmt.Errorf("failed to post to %s: %w", n.channel, err)
	}
	return nil
}

func formatMessage(t AlertTransition) string {
	switch t.Type {
	case TransitionResolved:
		return fmt.Sprintf(":white_check_mark: *Resolved:* %s (value %g, threshold %g)",
			t.RuleName, t.MetricValue, t.Threshold)
	case TransitionEscalated:
		return fmt.Sprintf("%s *Escalated to level %d:* %s (value %g, threshold %g)",
			database.GetSeverityEmoji(t.Severity), t.EscalationLevel, t.RuleName, t.MetricValue, t.Threshold)
	default:
		return fmt.Sprintf("%s *%s alert:* %s: value %g crossed threshold %g",
			database.GetSeverityEmoji(t.Severity), t.Severity, t.RuleName, t.MetricValue, t.Threshold)
	}
}
