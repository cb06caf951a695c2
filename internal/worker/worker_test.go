package worker

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/findex/internal/bus"
	"github.com/opensource-finance/findex/internal/domain"
	"github.com/opensource-finance/findex/internal/repository"
	"github.com/opensource-finance/findex/internal/rules"
	"github.com/opensource-finance/findex/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: repository.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestWorkerStartStop(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, nil, rules.NewSyncer(rules.NewRegistry(nil, nil), rules.SyncerOptions{}), nil)

	assert.Error(t, w.Start(Config{}))

	require.NoError(t, w.Start(Config{CollectionIDs: []string{"c1", "c2"}}))
	stats := w.GetStats()
	assert.Equal(t, 4, stats.SubscriptionCount)
	assert.ElementsMatch(t, []string{
		domain.TopicRulesUpdated, domain.TopicIntervalRequested,
		domain.TopicRulesUpdated, domain.TopicIntervalRequested,
	}, stats.Topics)

	require.NoError(t, w.Stop())
	assert.Equal(t, 0, w.GetStats().SubscriptionCount)
}

func TestWorkerIntervalRequest(t *testing.T) {
	ctx := context.Background()
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	repo := newRepo(t)

	syncer := rules.NewSyncer(rules.NewRegistry(nil, nil), rules.SyncerOptions{Repository: repo})
	_, _, err := syncer.Save(ctx, "c1", "* :: * :: young :: 10 :: 20")
	require.NoError(t, err)

	w := NewWorker(eventBus, repo, syncer, nil)
	require.NoError(t, w.Start(Config{CollectionIDs: []string{"c1"}}))
	defer w.Stop()

	adjusted := make(chan *domain.Adjustment, 2)
	_, err = eventBus.Subscribe(ctx, "c1", domain.TopicIntervalAdjusted, func(_ context.Context, msg *domain.Message) error {
		var adj domain.Adjustment
		if err := json.Unmarshal(msg.Payload, &adj); err != nil {
			return err
		}
		adjusted <- &adj
		return nil
	})
	require.NoError(t, err)

	payload, _ := json.Marshal(domain.IntervalRequest{
		Item:             domain.Item{ID: "card-1", Deck: "Japanese", Maturity: domain.MaturityYoung},
		Ease:             3,
		BaselineInterval: 8,
		TraceID:          "trace-001",
	})

	reply, err := eventBus.Request(ctx, "c1", domain.TopicIntervalRequested, payload)
	require.NoError(t, err)

	var adj domain.Adjustment
	require.NoError(t, json.Unmarshal(reply, &adj))
	assert.True(t, adj.Matched)
	assert.InDelta(t, 8*math.Log(0.9)/math.Log(0.8), adj.AdjustedInterval, 1e-9)
	assert.Equal(t, "trace-001", adj.Metadata.TraceID)
	assert.Equal(t, 1, adj.Metadata.RuleRevision)

	select {
	case published := <-adjusted:
		assert.Equal(t, adj.ID, published.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("adjustment not published")
	}

	stored, err := repo.GetAdjustment(ctx, "c1", adj.ID)
	require.NoError(t, err)
	assert.Equal(t, "card-1", stored.ItemID)
}

func TestWorkerRequestErrorsAreAnswered(t *testing.T) {
	ctx := context.Background()
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	syncer := rules.NewSyncer(rules.NewRegistry(nil, nil), rules.SyncerOptions{})
	_, _, err := syncer.Save(ctx, "c1", "* :: * :: * :: 5")
	require.NoError(t, err)

	w := NewWorker(eventBus, nil, syncer, nil)
	require.NoError(t, w.Start(Config{CollectionIDs: []string{"c1"}}))
	defer w.Stop()

	negative, _ := json.Marshal(domain.IntervalRequest{
		Item:             domain.Item{ID: "card-1", Deck: "Japanese", Maturity: domain.MaturityNew},
		Ease:             3,
		BaselineInterval: -3,
	})
	badEase, _ := json.Marshal(domain.IntervalRequest{
		Item:             domain.Item{ID: "card-1", Deck: "Japanese", Maturity: domain.MaturityNew},
		Ease:             7,
		BaselineInterval: 3,
	})

	tests := []struct {
		name    string
		payload []byte
	}{
		{"malformed payload", []byte("not json")},
		{"negative baseline", negative},
		{"ease out of range", badEase},
		{"missing deck", []byte(`{"item":{"maturity":"new"},"ease":3,"baselineInterval":3}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()

			started := time.Now()
			reply, err := eventBus.Request(reqCtx, "c1", domain.TopicIntervalRequested, tt.payload)
			require.ErrorIs(t, err, bus.ErrRequestFailed)
			assert.NotErrorIs(t, err, context.DeadlineExceeded)
			assert.Nil(t, reply)
			assert.Less(t, time.Since(started), time.Second)
		})
	}
}

func TestWorkerNormalizesBusItems(t *testing.T) {
	ctx := context.Background()
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	syncer := rules.NewSyncer(rules.NewRegistry(nil, nil), rules.SyncerOptions{})
	_, _, err := syncer.Save(ctx, "c1", "* :: * :: young :: 10 :: 20")
	require.NoError(t, err)

	w := NewWorker(eventBus, nil, syncer, nil)
	require.NoError(t, w.Start(Config{CollectionIDs: []string{"c1"}}))
	defer w.Stop()

	payload := []byte(`{"item":{"id":"card-1","deck":" Japanese ","maturity":"Young"},"ease":3,"baselineInterval":8}`)
	reply, err := eventBus.Request(ctx, "c1", domain.TopicIntervalRequested, payload)
	require.NoError(t, err)

	var adj domain.Adjustment
	require.NoError(t, json.Unmarshal(reply, &adj))
	assert.True(t, adj.Matched)
	assert.InDelta(t, 8*math.Log(0.9)/math.Log(0.8), adj.AdjustedInterval, 1e-9)
}

func TestWorkerLoadsStoredRulesOnFirstRequest(t *testing.T) {
	ctx := context.Background()
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	repo := newRepo(t)

	before := rules.NewSyncer(rules.NewRegistry(nil, nil), rules.SyncerOptions{Repository: repo})
	_, _, err := before.Save(ctx, "spanish", "* :: * :: * :: 5")
	require.NoError(t, err)

	// A fresh syncer over the same repository, as after a restart.
	syncer := rules.NewSyncer(rules.NewRegistry(nil, nil), rules.SyncerOptions{Repository: repo})
	w := NewWorker(eventBus, repo, syncer, nil)
	require.NoError(t, w.Start(Config{CollectionIDs: []string{"spanish"}}))
	defer w.Stop()

	payload, _ := json.Marshal(domain.IntervalRequest{
		Item:             domain.Item{ID: "card-9", Deck: "Spanish", Maturity: domain.MaturityMature},
		Ease:             3,
		BaselineInterval: 10,
	})
	reply, err := eventBus.Request(ctx, "spanish", domain.TopicIntervalRequested, payload)
	require.NoError(t, err)

	var adj domain.Adjustment
	require.NoError(t, json.Unmarshal(reply, &adj))
	assert.True(t, adj.Matched)
	assert.Equal(t, 1, adj.Metadata.RuleRevision)
	assert.InDelta(t, 10*math.Log(0.95)/math.Log(0.9), adj.AdjustedInterval, 1e-9)
}

func TestWorkerFollowsRuleUpdates(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	natsURL := testutil.StartEmbeddedNATS(t)
	newBus := func() domain.EventBus {
		b, err := bus.NewNATSBus(domain.EventBusConfig{NATSUrl: natsURL, NATSMaxReconnects: 1, NATSReconnectWait: 1})
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		return b
	}

	busA, busB := newBus(), newBus()
	nodeA := rules.NewSyncer(rules.NewRegistry(nil, nil), rules.SyncerOptions{Repository: repo, Bus: busA, InstanceID: "a"})
	nodeB := rules.NewSyncer(rules.NewRegistry(nil, nil), rules.SyncerOptions{Repository: repo, Bus: busB, InstanceID: "b"})

	w := NewWorker(busB, repo, nodeB, nil)
	require.NoError(t, w.Start(Config{CollectionIDs: []string{"c1"}}))
	defer w.Stop()
	require.NoError(t, busB.Ping(ctx))

	_, _, err := nodeA.Save(ctx, "c1", "Japanese :: * :: * :: 4")
	require.NoError(t, err)

	storeB := nodeB.Registry().Get("c1")
	require.Eventually(t, func() bool { return storeB.Revision() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Japanese :: * :: * :: 4", storeB.Text())

	m, ok := storeB.Lookup(domain.Item{Deck: "Japanese", Maturity: domain.MaturityMature})
	require.True(t, ok)
	assert.InDelta(t, 0.04, m.TargetFI, 1e-12)
}
