package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Slack posts alerts to an incoming webhook as Block Kit messages.
type Slack struct {
	*poster
}

// NewSlack creates a Slack channel.
func NewSlack(url string, opts ...HTTPOption) (*Slack, error) {
	p, err := newPoster("slack", url, opts)
	if err != nil {
		return nil, err
	}
	return &Slack{poster: p}, nil
}

// Name returns the channel identifier.
func (s *Slack) Name() string { return "slack" }

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Send posts the alert.
func (s *Slack) Send(ctx context.Context, alert types.Alert) error {
	body, err := json.Marshal(buildSlackMessage(alert))
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}
	if err := s.post(ctx, body); err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	return nil
}

func buildSlackMessage(alert types.Alert) slackMessage {
	headline := fmt.Sprintf("%s [%s] %s", severityEmoji(alert.Severity), strings.ToUpper(string(alert.Severity)), alert.Title)
	return slackMessage{
		Text: headline,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: headline}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: alert.Message}},
			{Type: "section", Fields: []slackText{
				{Type: "mrkdwn", Text: "*Category:*\n" + string(alert.Category)},
				{Type: "mrkdwn", Text: "*Status:*\n" + string(alert.Status)},
				{Type: "mrkdwn", Text: "*Rule:*\n" + orDash(alert.Rule)},
				{Type: "mrkdwn", Text: "*Alert:*\n" + alert.ID},
			}},
			{Type: "context", Elements: []slackText{
				{Type: "mrkdwn", Text: alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC")},
			}},
		},
	}
}

func severityEmoji(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return "\U0001f6a8"
	case types.SeverityHigh:
		return "\U0001f534"
	case types.SeverityMedium:
		return "\U0001f7e1"
	default:
		return "\U0001f535"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
