// Package worker consumes rule updates and interval requests from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/findex/internal/bus"
	"github.com/opensource-finance/findex/internal/domain"
	"github.com/opensource-finance/findex/internal/rules"
	"github.com/opensource-finance/findex/internal/scheduler"
)

// Worker keeps this instance's rule stores current and answers interval
// requests published on the bus.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	syncer  *rules.Syncer
	metrics domain.MetricsCollector

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// CollectionIDs are the collections this worker serves.
	CollectionIDs []string
}

// NewWorker creates a worker. repo and metrics may be nil.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, syncer *rules.Syncer, metrics domain.MetricsCollector) *Worker {
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     eventBus,
		repo:    repo,
		syncer:  syncer,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the rule update and interval request topics of every
// configured collection.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.CollectionIDs) == 0 {
		return fmt.Errorf("no collections configured")
	}

	for _, collectionID := range cfg.CollectionIDs {
		if err := w.startCollection(collectionID); err != nil {
			slog.Error("failed to start worker for collection",
				"collection_id", collectionID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started", "collection_count", len(cfg.CollectionIDs))
	return nil
}

func (w *Worker) startCollection(collectionID string) error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicRulesUpdated:      w.syncer.HandleRulesUpdated,
		domain.TopicIntervalRequested: w.handleIntervalRequest,
	}

	for topic, handler := range handlers {
		sub, err := w.bus.Subscribe(w.ctx, collectionID, topic, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	slog.Info("collection worker started", "collection_id", collectionID)
	return nil
}

// handleIntervalRequest computes, stores and publishes one adjustment. The
// result is also sent as the reply when the request came through Request;
// a request that cannot be served is answered with an error reply.
func (w *Worker) handleIntervalRequest(ctx context.Context, msg *domain.Message) error {
	start := time.Now()
	collectionID := msg.CollectionID

	var req domain.IntervalRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse interval request", "message_id", msg.ID, "error", err)
		return w.fail(ctx, msg, fmt.Errorf("invalid interval request: %w", err))
	}
	if err := req.Check(); err != nil {
		return w.fail(ctx, msg, err)
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	store, err := w.syncer.Store(ctx, collectionID)
	if err != nil {
		slog.Error("failed to load rules", "collection_id", collectionID, "error", err)
		return w.fail(ctx, msg, err)
	}
	sched := scheduler.New(collectionID, store, w.metrics)

	adj, err := sched.Process(&scheduler.Input{
		Item:      req.Item,
		Ease:      req.Ease,
		Baseline:  scheduler.ConstantBaseline(req.BaselineInterval),
		TraceID:   traceID,
		StartTime: start,
	})
	if err != nil {
		slog.Error("interval adjustment failed",
			"collection_id", collectionID,
			"item_id", req.Item.ID,
			"error", err,
		)
		return w.fail(ctx, msg, err)
	}

	if w.repo != nil {
		if err := w.repo.SaveAdjustment(ctx, collectionID, adj); err != nil {
			slog.Error("failed to save adjustment", "adjustment_id", adj.ID, "error", err)
		}
	}

	payload, err := json.Marshal(adj)
	if err != nil {
		return w.fail(ctx, msg, err)
	}
	if err := w.bus.Publish(ctx, collectionID, domain.TopicIntervalAdjusted, payload); err != nil {
		slog.Error("failed to publish adjustment", "adjustment_id", adj.ID, "error", err)
	}
	if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
		slog.Error("failed to reply", "adjustment_id", adj.ID, "error", err)
	}

	slog.Debug("interval adjusted",
		"collection_id", collectionID,
		"item_id", req.Item.ID,
		"matched", adj.Matched,
		"baseline", adj.BaselineInterval,
		"adjusted", adj.AdjustedInterval,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// fail answers a failed request and returns cause for the bus to log.
func (w *Worker) fail(ctx context.Context, msg *domain.Message, cause error) error {
	if err := bus.ReplyError(ctx, w.bus, msg, cause); err != nil {
		slog.Error("failed to send error reply", "message_id", msg.ID, "error", err)
	}
	return cause
}

// Stop unsubscribes everything.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
