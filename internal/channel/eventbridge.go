package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Default EventBridge envelope values.
const (
	DefaultEventSource = "tripwire"
	eventDetailType    = "Tripwire Alert"
)

// EventBridgeAPI is the subset of the EventBridge client used by
// EventBridge.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, input *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridge puts alerts on an event bus.
type EventBridge struct {
	client EventBridgeAPI
	bus    string
	source string
}

// EventBridgeOption configures an EventBridge channel.
type EventBridgeOption func(*EventBridge)

// WithEventBridgeClient sets the EventBridge client.
func WithEventBridgeClient(c EventBridgeAPI) EventBridgeOption {
	return func(e *EventBridge) { e.client = c }
}

// NewEventBridge creates an EventBridge channel. An empty bus uses the
// account default bus.
func NewEventBridge(bus, source string, opts ...EventBridgeOption) (*EventBridge, error) {
	if source == "" {
		source = DefaultEventSource
	}
	e := &EventBridge{bus: bus, source: source}
	for _, o := range opts {
		o(e)
	}
	if e.client == nil {
		return nil, fmt.Errorf("EventBridge client required")
	}
	return e, nil
}

// Name returns the channel identifier.
func (e *EventBridge) Name() string { return "eventbridge" }

// Send puts one event whose detail is the alert JSON.
func (e *EventBridge) Send(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}
	entry := ebtypes.PutEventsRequestEntry{
		Source:     aws.String(e.source),
		DetailType: aws.String(eventDetailType),
		Detail:     aws.String(string(data)),
		Resources:  []string{},
	}
	if e.bus != "" {
		entry.EventBusName = aws.String(e.bus)
	}

	out, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("putting event: %w", err)
	}
	for _, res := range out.Entries {
		if res.ErrorCode != nil {
			return fmt.Errorf("putting event: %s: %s", aws.ToString(res.ErrorCode), aws.ToString(res.ErrorMessage))
		}
	}
	return nil
}
