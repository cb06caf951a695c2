package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/findex/internal/domain"
	"github.com/opensource-finance/findex/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBuses returns every bus implementation, each closed at test end.
func testBuses(t *testing.T) map[string]domain.EventBus {
	t.Helper()

	channel := NewChannelBus(100)
	t.Cleanup(func() { channel.Close() })

	nb, err := NewNATSBus(domain.EventBusConfig{
		NATSUrl:           testutil.StartEmbeddedNATS(t),
		NATSMaxReconnects: 1,
		NATSReconnectWait: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { nb.Close() })

	return map[string]domain.EventBus{"channel": channel, "nats": nb}
}

// flush makes sure a NATS subscription is registered with the server before
// publishing.
func flush(t *testing.T, b domain.EventBus) {
	t.Helper()
	require.NoError(t, b.Ping(context.Background()))
}

func receive(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	for name, b := range testBuses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			got := make(chan *domain.Message, 4)

			sub, err := b.Subscribe(ctx, "c1", domain.TopicRulesUpdated, func(_ context.Context, msg *domain.Message) error {
				got <- msg
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, domain.TopicRulesUpdated, sub.Topic())
			flush(t, b)

			require.NoError(t, b.Publish(ctx, "c1", domain.TopicRulesUpdated, []byte(`{"revision":3}`)))

			msg := receive(t, got)
			assert.NotEmpty(t, msg.ID)
			assert.Equal(t, "c1", msg.CollectionID)
			assert.Equal(t, domain.TopicRulesUpdated, msg.Topic)
			assert.JSONEq(t, `{"revision":3}`, string(msg.Payload))

			// Other collections are not delivered.
			require.NoError(t, b.Publish(ctx, "c2", domain.TopicRulesUpdated, []byte("x")))
			require.NoError(t, sub.Unsubscribe())
			flush(t, b)
			require.NoError(t, b.Publish(ctx, "c1", domain.TopicRulesUpdated, []byte("late")))

			select {
			case msg := <-got:
				t.Fatalf("unexpected message %q", msg.Payload)
			case <-time.After(100 * time.Millisecond):
			}
		})
	}
}

func TestRequestReply(t *testing.T) {
	for name, b := range testBuses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := b.Subscribe(ctx, "c1", domain.TopicIntervalRequested, func(ctx context.Context, msg *domain.Message) error {
				return Reply(ctx, b, msg, append([]byte("re:"), msg.Payload...))
			})
			require.NoError(t, err)
			flush(t, b)

			reply, err := b.Request(ctx, "c1", domain.TopicIntervalRequested, []byte("ping"))
			require.NoError(t, err)
			assert.Equal(t, "re:ping", string(reply))
		})
	}
}

func TestRequestReplyError(t *testing.T) {
	for name, b := range testBuses(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			_, err := b.Subscribe(ctx, "c1", domain.TopicIntervalRequested, func(ctx context.Context, msg *domain.Message) error {
				return ReplyError(ctx, b, msg, errors.New("bad payload"))
			})
			require.NoError(t, err)
			flush(t, b)

			reply, err := b.Request(ctx, "c1", domain.TopicIntervalRequested, []byte("ping"))
			require.ErrorIs(t, err, ErrRequestFailed)
			assert.Contains(t, err.Error(), "bad payload")
			assert.NotErrorIs(t, err, context.DeadlineExceeded)
			assert.Nil(t, reply)
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	for name, b := range testBuses(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			_, err := b.Request(ctx, "c1", "nobody.listens", []byte("x"))
			assert.Error(t, err)
		})
	}
}

func TestRequireCollection(t *testing.T) {
	for name, b := range testBuses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.ErrorIs(t, b.Publish(ctx, "", "t", nil), ErrCollectionRequired)
			_, err := b.Subscribe(ctx, "", "t", func(context.Context, *domain.Message) error { return nil })
			assert.ErrorIs(t, err, ErrCollectionRequired)
		})
	}
}

func TestReplyWithoutRequest(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()

	msg := newMessage("c1", "t", nil)
	assert.NoError(t, Reply(context.Background(), b, msg, []byte("x")))
	assert.NoError(t, ReplyError(context.Background(), b, msg, errors.New("x")))
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(100)
	ctx := context.Background()

	_, err := b.Subscribe(ctx, "c1", "close.topic", func(context.Context, *domain.Message) error { return nil })
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.True(t, errors.Is(b.Publish(ctx, "c1", "close.topic", []byte("data")), ErrClosed))
	assert.ErrorIs(t, b.Ping(ctx), ErrClosed)
	_, err = b.Subscribe(ctx, "c1", "close.topic", func(context.Context, *domain.Message) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestChannelBusUnsubscribeRemoves(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "c1", "t", func(context.Context, *domain.Message) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, b.subscriberCount("c1", "t"))

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, b.subscriberCount("c1", "t"))
}

func TestChannelBusOrderAndLoad(t *testing.T) {
	b := NewChannelBus(1000)
	defer b.Close()
	ctx := context.Background()

	const messageCount = 200
	var received atomic.Int32
	var outOfOrder atomic.Int32
	done := make(chan struct{})

	var last atomic.Int64
	last.Store(-1)
	_, err := b.Subscribe(ctx, "c1", "load.topic", func(_ context.Context, msg *domain.Message) error {
		if prev := last.Swap(msg.Timestamp); prev > msg.Timestamp {
			outOfOrder.Add(1)
		}
		if received.Add(1) == messageCount {
			close(done)
		}
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < messageCount; i++ {
		require.NoError(t, b.Publish(ctx, "c1", "load.topic", []byte("msg")))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
	assert.EqualValues(t, 0, outOfOrder.Load())
}

func TestNewBus(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &ChannelBus{}, b)

	_, err = New(domain.EventBusConfig{Type: "kafka"})
	assert.Error(t, err)

	assert.Equal(t, "findex.c1.findex.rules.updated", subject("c1", domain.TopicRulesUpdated))
}
