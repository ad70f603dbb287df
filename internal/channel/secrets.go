package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used to resolve
// channel URLs.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, input *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func newSecretsClient(cfg aws.Config) SecretsAPI {
	return secretsmanager.NewFromConfig(cfg)
}

// secretValue caches a secret string after the first successful lookup.
type secretValue struct {
	arn    string
	client SecretsAPI

	mu    sync.Mutex
	value string
}

func (s *secretValue) get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value != "" {
		return s.value, nil
	}
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.arn),
	})
	if err != nil {
		return "", fmt.Errorf("resolving secret %s: %w", s.arn, err)
	}
	v := aws.ToString(out.SecretString)
	if v == "" {
		return "", fmt.Errorf("secret %s has no string value", s.arn)
	}
	s.value = v
	return v, nil
}
