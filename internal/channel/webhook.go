package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// HTTP delivery defaults.
const (
	webhookTimeout     = 10 * time.Second
	breakerOpenTimeout = 30 * time.Second
	breakerTripAfter   = 5
)

// poster is the HTTP delivery shared by webhook and slack channels.
type poster struct {
	url     string
	secret  *secretValue
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	name    string
}

// HTTPOption configures webhook and slack channels.
type HTTPOption func(*poster)

// WithClient sets the HTTP client. A nil client is ignored.
func WithClient(c *http.Client) HTTPOption {
	return func(p *poster) {
		if c != nil {
			p.client = c
		}
	}
}

// WithSecret resolves the target URL from a Secrets Manager secret on
// first send.
func WithSecret(arn string, client SecretsAPI) HTTPOption {
	return func(p *poster) { p.secret = &secretValue{arn: arn, client: client} }
}

// WithBreakerName names the circuit breaker, which shows up in state
// change logs.
func WithBreakerName(name string) HTTPOption {
	return func(p *poster) {
		if name != "" {
			p.name = name
		}
	}
}

func newPoster(kind, url string, opts []HTTPOption) (*poster, error) {
	p := &poster{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		name:   kind,
	}
	for _, o := range opts {
		o(p)
	}
	if p.url == "" && p.secret == nil {
		return nil, fmt.Errorf("%s URL required", kind)
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.name,
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
	})
	return p, nil
}

func (p *poster) target(ctx context.Context) (string, error) {
	if p.secret != nil {
		return p.secret.get(ctx)
	}
	return p.url, nil
}

func (p *poster) post(ctx context.Context, body []byte) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		url, err := p.target(ctx)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%s returned status %d", p.name, resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// State returns the circuit breaker state.
func (p *poster) State() gobreaker.State { return p.breaker.State() }

// Webhook sends alerts as JSON POST requests to a URL.
type Webhook struct {
	*poster
}

// NewWebhook creates a webhook channel.
func NewWebhook(url string, opts ...HTTPOption) (*Webhook, error) {
	p, err := newPoster("webhook", url, opts)
	if err != nil {
		return nil, err
	}
	return &Webhook{poster: p}, nil
}

// Name returns the channel identifier.
func (w *Webhook) Name() string { return "webhook" }

// Send posts the alert as JSON.
func (w *Webhook) Send(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}
	if err := w.post(ctx, data); err != nil {
		return fmt.Errorf("webhook POST failed: %w", err)
	}
	return nil
}
