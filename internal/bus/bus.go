// Package bus carries rule updates and interval requests between findex
// components over Go channels or NATS.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/findex/internal/domain"
)

var (
	ErrCollectionRequired = errors.New("collectionID is required")
	ErrClosed             = errors.New("bus is closed")
	ErrRequestFailed      = errors.New("request failed")
)

// DefaultRequestTimeout bounds Request when ctx has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// New creates a new event bus based on configuration.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func newMessage(collectionID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:           uuid.New().String(),
		CollectionID: collectionID,
		Topic:        topic,
		Payload:      payload,
		Metadata:     make(map[string]string),
		Timestamp:    time.Now().UnixNano(),
	}
}

// replyTopic returns a topic unique to one request.
func replyTopic(topic string) string {
	return topic + ".reply." + uuid.New().String()
}

// messagePublisher is implemented by the buses in this package, which can
// send a prepared message with its metadata.
type messagePublisher interface {
	publish(msg *domain.Message) error
}

// Reply publishes payload on the reply topic of msg. It is a no-op for
// messages that were not sent with Request.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	to := msg.Metadata[domain.MetadataReplyTo]
	if to == "" {
		return nil
	}
	return b.Publish(ctx, msg.CollectionID, to, payload)
}

// ReplyError answers a request with a failure. Request on the caller's side
// returns an error wrapping ErrRequestFailed with cause's text.
func ReplyError(ctx context.Context, b domain.EventBus, msg *domain.Message, cause error) error {
	to := msg.Metadata[domain.MetadataReplyTo]
	if to == "" {
		return nil
	}
	p, ok := b.(messagePublisher)
	if !ok {
		return fmt.Errorf("bus %T cannot carry reply errors", b)
	}
	reply := newMessage(msg.CollectionID, to, nil)
	reply.Metadata[domain.MetadataError] = cause.Error()
	return p.publish(reply)
}

// replyResult turns a reply message into Request's return values.
func replyResult(reply *domain.Message) ([]byte, error) {
	if text, ok := reply.Metadata[domain.MetadataError]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, text)
	}
	return reply.Payload, nil
}

func withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultRequestTimeout)
}
