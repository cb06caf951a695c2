// Package scheduler wraps the host's interval algorithm so that items matched by
// a forgetting index rule are rescheduled to the rule's target.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/findex/internal/domain"
)

// EngineVersion is recorded on every adjustment.
const EngineVersion = "findex-1.0"

// IntervalFunc is a host scheduling algorithm: the next interval in days for an
// item answered with the given ease.
type IntervalFunc func(item domain.Item, ease int) float64

// Lookuper answers which forgetting indexes apply to an item.
type Lookuper interface {
	Lookup(item domain.Item) (domain.Match, bool)
}

// revisioned is implemented by rule stores that know their document revision.
type revisioned interface {
	Revision() int
	RulesCount() int
}

// Scheduler composes a Lookuper with a host interval algorithm.
// It holds no scheduling state of its own.
type Scheduler struct {
	collectionID string
	rules        Lookuper
	metrics      domain.MetricsCollector
}

// New creates a scheduler reading rules from lookup. metrics may be nil.
func New(collectionID string, lookup Lookuper, metrics domain.MetricsCollector) *Scheduler {
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &Scheduler{
		collectionID: collectionID,
		rules:        lookup,
		metrics:      metrics,
	}
}

// ComputeAdjustedInterval runs baseline and reschedules its result when a rule
// matches item. A zero baseline interval (a new card) and an unmatched item are
// returned unchanged.
func (s *Scheduler) ComputeAdjustedInterval(item domain.Item, ease int, baseline IntervalFunc) (float64, error) {
	r, err := s.adjust(item, ease, baseline)
	return r.adjusted, err
}

type result struct {
	orig     float64
	adjusted float64
	match    domain.Match
	matched  bool
}

func (s *Scheduler) adjust(item domain.Item, ease int, baseline IntervalFunc) (result, error) {
	r := result{orig: baseline(item, ease)}
	r.adjusted = r.orig
	if r.orig == 0 {
		return r, nil
	}

	r.match, r.matched = s.rules.Lookup(item)
	if !r.matched {
		return r, nil
	}

	adjusted, err := Reschedule(r.orig, r.match.TargetFI, r.match.BaselineFI)
	if err != nil {
		return r, fmt.Errorf("reschedule item %q: %w", item.ID, err)
	}
	r.adjusted = adjusted

	s.metrics.RecordAdjustment(s.collectionID, adjusted/r.orig)
	return r, nil
}

// Wrap returns next with rescheduling applied, for hosts that only accept an
// IntervalFunc. Rescheduling errors are logged and the baseline is kept.
func (s *Scheduler) Wrap(next IntervalFunc) IntervalFunc {
	return func(item domain.Item, ease int) float64 {
		interval, err := s.ComputeAdjustedInterval(item, ease, next)
		if err != nil {
			slog.Warn("keeping baseline interval",
				"collection_id", s.collectionID,
				"item_id", item.ID,
				"error", err,
			)
		}
		return interval
	}
}

// Input contains all data needed to record an adjustment.
type Input struct {
	Item      domain.Item
	Ease      int
	Baseline  IntervalFunc
	TraceID   string
	StartTime time.Time
}

// Process computes the adjusted interval for input and records how it was
// reached.
func (s *Scheduler) Process(input *Input) (*domain.Adjustment, error) {
	start := input.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	adj := &domain.Adjustment{
		ID:           uuid.New().String(),
		CollectionID: s.collectionID,
		ItemID:       input.Item.ID,
		Deck:         input.Item.Deck,
		Maturity:     input.Item.Maturity,
		Ease:         input.Ease,
		Timestamp:    time.Now().UTC(),
	}

	r, err := s.adjust(input.Item, input.Ease, input.Baseline)
	if err != nil {
		return nil, err
	}
	adj.BaselineInterval = r.orig
	adj.AdjustedInterval = r.adjusted
	if r.matched {
		adj.Matched = true
		adj.TargetFI = r.match.TargetFI
		adj.BaselineFI = r.match.BaselineFI
	}

	adj.Metadata = domain.AdjustmentMetadata{
		TraceID:       input.TraceID,
		DurationUs:    time.Since(start).Microseconds(),
		EngineVersion: EngineVersion,
	}
	if rs, ok := s.rules.(revisioned); ok {
		adj.Metadata.RuleRevision = rs.Revision()
		adj.Metadata.RulesLoaded = rs.RulesCount()
	}

	return adj, nil
}

// ConstantBaseline returns an IntervalFunc that always yields interval, for
// hosts that send an already computed baseline.
func ConstantBaseline(interval float64) IntervalFunc {
	return func(domain.Item, int) float64 { return interval }
}
