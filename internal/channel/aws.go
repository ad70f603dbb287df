package channel

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

func buildAWS(cfg types.ChannelConfig, awsCfg aws.Config) (Channel, error) {
	switch cfg.Type {
	case types.ChannelSNS:
		return NewSNS(cfg.TopicARN, WithSNSClient(sns.NewFromConfig(awsCfg)))
	case types.ChannelSQS:
		return NewSQS(cfg.QueueURL, WithSQSClient(sqs.NewFromConfig(awsCfg)))
	case types.ChannelEventBridge:
		return NewEventBridge(cfg.EventBus, cfg.Source, WithEventBridgeClient(eventbridge.NewFromConfig(awsCfg)))
	case types.ChannelCloudWatchLogs:
		return NewCloudWatchLogs(cfg.LogGroup, cfg.LogStream, WithCloudWatchLogsClient(cloudwatchlogs.NewFromConfig(awsCfg)))
	case types.ChannelS3:
		return NewS3(cfg.Bucket, cfg.Prefix, WithS3Client(s3.NewFromConfig(awsCfg)))
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownType, cfg.Type)
}
