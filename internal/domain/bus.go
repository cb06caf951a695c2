package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require collectionID for strict isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, collectionID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, collectionID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, collectionID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID           string            `json:"id"`
	CollectionID string            `json:"collectionId"`
	Topic        string            `json:"topic"`
	Payload      []byte            `json:"payload"`
	Metadata     map[string]string `json:"metadata"`
	Timestamp    int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names.
const (
	TopicRulesUpdated      = "findex.rules.updated"
	TopicIntervalRequested = "findex.interval.requested"
	TopicIntervalAdjusted  = "findex.interval.adjusted"
)

// RulesUpdatedEvent is published after a new rule document revision is stored.
type RulesUpdatedEvent struct {
	CollectionID string `json:"collectionId"`
	Revision     int    `json:"revision"`
	Origin       string `json:"origin"` // instance ID of the publisher
}

// Message metadata keys used by request-reply.
const (
	// MetadataReplyTo names the topic a request's reply must be published on.
	MetadataReplyTo = "reply_to"
	// MetadataError carries the handler's error text on a failed reply.
	MetadataError = "error"
)

// IntervalRequest asks a worker to compute an adjusted interval.
type IntervalRequest struct {
	Item             Item    `json:"item"`
	Ease             int     `json:"ease" validate:"gte=1,lte=4"`
	BaselineInterval float64 `json:"baselineInterval" validate:"gte=0"`
	TraceID          string  `json:"traceId,omitempty"`
}

// Check normalizes the item and validates the request.
func (r *IntervalRequest) Check() error {
	r.Item.Normalize()
	return Validate(r)
}
