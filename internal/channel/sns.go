package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// SNSAPI is the subset of the SNS client used by SNS.
type SNSAPI interface {
	Publish(ctx context.Context, input *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes alerts to an SNS topic.
type SNS struct {
	client   SNSAPI
	topicARN string
}

// SNSOption configures an SNS channel.
type SNSOption func(*SNS)

// WithSNSClient sets the SNS client.
func WithSNSClient(c SNSAPI) SNSOption {
	return func(s *SNS) { s.client = c }
}

// NewSNS creates an SNS channel.
func NewSNS(topicARN string, opts ...SNSOption) (*SNS, error) {
	if topicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN required")
	}
	s := &SNS{topicARN: topicARN}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		return nil, fmt.Errorf("SNS client required")
	}
	return s, nil
}

// Name returns the channel identifier.
func (s *SNS) Name() string { return "sns" }

// Send publishes the alert as JSON with a severity message attribute for
// subscription filter policies.
func (s *SNS) Send(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject(alert)),
		Message:  aws.String(string(data)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"severity": {DataType: aws.String("String"), StringValue: aws.String(string(alert.Severity))},
			"category": {DataType: aws.String("String"), StringValue: aws.String(string(alert.Category))},
		},
	})
	if err != nil {
		return fmt.Errorf("publishing to SNS: %w", err)
	}
	return nil
}

// subject renders a short single-line summary for the SNS subject.
func subject(alert types.Alert) string {
	s := fmt.Sprintf("[%s] %s", alert.Severity, alert.Title)
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
