package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// SQSAPI is the subset of the SQS client used by SQS.
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS enqueues alerts on an SQS queue.
type SQS struct {
	client   SQSAPI
	queueURL string
}

// SQSOption configures an SQS channel.
type SQSOption func(*SQS)

// WithSQSClient sets the SQS client.
func WithSQSClient(c SQSAPI) SQSOption {
	return func(s *SQS) { s.client = c }
}

// NewSQS creates an SQS channel.
func NewSQS(queueURL string, opts ...SQSOption) (*SQS, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("SQS queue URL required")
	}
	s := &SQS{queueURL: queueURL}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		return nil, fmt.Errorf("SQS client required")
	}
	return s, nil
}

// Name returns the channel identifier.
func (s *SQS) Name() string { return "sqs" }

// Send enqueues the alert JSON.
func (s *SQS) Send(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(data)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"severity": {DataType: aws.String("String"), StringValue: aws.String(string(alert.Severity))},
			"alertId":  {DataType: aws.String("String"), StringValue: aws.String(alert.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("sending to SQS: %w", err)
	}
	return nil
}
