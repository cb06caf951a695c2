// Package history summarizes the interval adjustments recorded for an item.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/findex/internal/domain"
)

// DefaultWindow is used when no window is given.
const DefaultWindow = 30 * 24 * time.Hour

// ErrNoRepository is returned when the service has nothing to read from.
var ErrNoRepository = errors.New("no data source available")

// Summary describes an item's adjustments within a window.
type Summary struct {
	ItemID  string `json:"itemId"`
	Window  string `json:"window"`
	Reviews int    `json:"reviews"`
	Matched int    `json:"matched"`

	// MeanRatio is the mean adjusted/baseline interval over all reviews.
	MeanRatio float64 `json:"meanRatio"`

	Last *domain.Adjustment `json:"last,omitempty"`
}

// Service reads item history from the repository.
type Service struct {
	repo domain.Repository
	now  func() time.Time
}

// NewService creates a new history service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Summarize returns the adjustments of itemID recorded within window.
func (s *Service) Summarize(ctx context.Context, collectionID, itemID string, window time.Duration) (*Summary, error) {
	if collectionID == "" || itemID == "" {
		return nil, fmt.Errorf("collectionID and itemID are required")
	}
	if s.repo == nil {
		return nil, ErrNoRepository
	}
	if window <= 0 {
		window = DefaultWindow
	}

	since := s.now().UTC().Add(-window)
	adjs, err := s.repo.ListAdjustmentsByItem(ctx, collectionID, itemID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}

	summary := &Summary{ItemID: itemID, Window: window.String(), Reviews: len(adjs)}
	if len(adjs) == 0 {
		return summary, nil
	}

	var total float64
	for _, adj := range adjs {
		if adj.Matched {
			summary.Matched++
		}
		total += adj.Ratio()
	}
	summary.MeanRatio = total / float64(len(adjs))
	summary.Last = adjs[len(adjs)-1]
	return summary, nil
}
