package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/findex/internal/domain"
)

// subjectPrefix namespaces findex subjects on a shared NATS server.
const subjectPrefix = "findex"

// NATSBus implements EventBus over NATS core subjects
// "findex.<collection>.<topic>". Messages travel as JSON envelopes.
type NATSBus struct {
	mu   sync.Mutex
	conn *nats.Conn
	subs map[*nats.Subscription]struct{}
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to NATS, retrying the initial connection.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	opts := []nats.Option{
		nats.Name("findex"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "error", err, "subject", subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var conn *nats.Conn
	var err error
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		conn, err = nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			break
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		if attempt < cfg.NATSMaxReconnects {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, err)
	}

	slog.Info("NATS connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())
	return &NATSBus{conn: conn, subs: make(map[*nats.Subscription]struct{})}, nil
}

// Publish sends a message on the collection's topic subject.
func (b *NATSBus) Publish(ctx context.Context, collectionID string, topic string, payload []byte) error {
	return b.publish(newMessage(collectionID, topic, payload))
}

func (b *NATSBus) publish(msg *domain.Message) error {
	if msg.CollectionID == "" {
		return ErrCollectionRequired
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.conn.Publish(subject(msg.CollectionID, msg.Topic), data)
}

// Subscribe registers a handler for the collection's topic subject.
func (b *NATSBus) Subscribe(ctx context.Context, collectionID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if collectionID == "" {
		return nil, ErrCollectionRequired
	}

	ns, err := b.conn.Subscribe(subject(collectionID, topic), func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("failed to unmarshal NATS message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error", "subject", m.Subject, "message_id", msg.ID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	b.mu.Lock()
	b.subs[ns] = struct{}{}
	b.mu.Unlock()

	return &natsSubscription{topic: topic, sub: ns, bus: b}, nil
}

// Request publishes payload and waits for the first reply sent with Reply.
func (b *NATSBus) Request(ctx context.Context, collectionID string, topic string, payload []byte) ([]byte, error) {
	if collectionID == "" {
		return nil, ErrCollectionRequired
	}
	ctx, cancel := withRequestTimeout(ctx)
	defer cancel()

	to := replyTopic(topic)
	inbox, err := b.conn.SubscribeSync(subject(collectionID, to))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe for reply: %w", err)
	}
	defer inbox.Unsubscribe()

	msg := newMessage(collectionID, topic, payload)
	msg.Metadata[domain.MetadataReplyTo] = to
	if err := b.publish(msg); err != nil {
		return nil, err
	}

	m, err := inbox.NextMsgWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var reply domain.Message
	if err := json.Unmarshal(m.Data, &reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	return replyResult(&reply)
}

// Ping checks NATS connectivity.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for ns := range b.subs {
		_ = ns.Unsubscribe()
	}
	b.subs = make(map[*nats.Subscription]struct{})
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func subject(collectionID, topic string) string {
	return subjectPrefix + "." + collectionID + "." + topic
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.sub)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
