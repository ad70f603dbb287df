package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// S3API is the subset of the S3 client used by S3.
type S3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 archives alerts to a bucket.
type S3 struct {
	client S3API
	bucket string
	prefix string
}

// S3Option configures an S3 channel.
type S3Option func(*S3)

// WithS3Client sets the S3 client.
func WithS3Client(c S3API) S3Option {
	return func(s *S3) { s.client = c }
}

// NewS3 creates an S3 channel.
func NewS3(bucket, prefix string, opts ...S3Option) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3 bucket name required")
	}
	s := &S3{
		bucket: bucket,
		prefix: strings.TrimRight(prefix, "/"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		return nil, fmt.Errorf("S3 client required")
	}
	return s, nil
}

// Name returns the channel identifier.
func (s *S3) Name() string { return "s3" }

// Send archives the alert as JSON.
// Key format: {prefix}/{date}/{severity}/{unix_millis}-{id}.json
func (s *S3) Send(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	ts := alert.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	key := fmt.Sprintf("%s/%s/%s/%d-%s.json",
		s.prefix, ts.UTC().Format("2006-01-02"), alert.Severity,
		ts.UnixMilli(), alert.ID)
	key = strings.TrimLeft(key, "/")

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting alert to S3: %w", err)
	}
	return nil
}
