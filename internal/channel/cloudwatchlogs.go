package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// DefaultLogStream is used when no stream name is configured.
const DefaultLogStream = "tripwire-alerts"

// CloudWatchLogsAPI is the subset of the CloudWatch Logs client used by
// CloudWatchLogs.
type CloudWatchLogsAPI interface {
	CreateLogStream(ctx context.Context, input *cloudwatchlogs.CreateLogStreamInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, input *cloudwatchlogs.PutLogEventsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchLogs writes alerts to a log stream, a persistent remote log.
type CloudWatchLogs struct {
	client CloudWatchLogsAPI
	group  string
	stream string

	mu      sync.Mutex
	created bool
}

// CloudWatchLogsOption configures a CloudWatchLogs channel.
type CloudWatchLogsOption func(*CloudWatchLogs)

// WithCloudWatchLogsClient sets the CloudWatch Logs client.
func WithCloudWatchLogsClient(c CloudWatchLogsAPI) CloudWatchLogsOption {
	return func(l *CloudWatchLogs) { l.client = c }
}

// NewCloudWatchLogs creates a CloudWatch Logs channel.
func NewCloudWatchLogs(group, stream string, opts ...CloudWatchLogsOption) (*CloudWatchLogs, error) {
	if group == "" {
		return nil, fmt.Errorf("log group required")
	}
	if stream == "" {
		stream = DefaultLogStream
	}
	l := &CloudWatchLogs{group: group, stream: stream}
	for _, o := range opts {
		o(l)
	}
	if l.client == nil {
		return nil, fmt.Errorf("CloudWatch Logs client required")
	}
	return l, nil
}

// Name returns the channel identifier.
func (l *CloudWatchLogs) Name() string { return "cloudwatchlogs" }

// Send writes the alert JSON as one log event, creating the stream on
// first use.
func (l *CloudWatchLogs) Send(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureStreamLocked(ctx); err != nil {
		return err
	}
	ts := alert.CreatedAt
	_, err = l.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(l.group),
		LogStreamName: aws.String(l.stream),
		LogEvents: []cwltypes.InputLogEvent{{
			Message:   aws.String(string(data)),
			Timestamp: aws.Int64(ts.UnixMilli()),
		}},
	})
	if err != nil {
		return fmt.Errorf("putting log event: %w", err)
	}
	return nil
}

func (l *CloudWatchLogs) ensureStreamLocked(ctx context.Context) error {
	if l.created {
		return nil
	}
	_, err := l.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(l.group),
		LogStreamName: aws.String(l.stream),
	})
	var exists *cwltypes.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("creating log stream: %w", err)
	}
	l.created = true
	return nil
}
