package domain

import (
	"time"
)

// Adjustment records how an item's interval was rescheduled.
type Adjustment struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collectionId"`
	ItemID       string    `json:"itemId"`
	Deck         string    `json:"deck"`
	Maturity     Maturity  `json:"maturity"`
	Ease         int       `json:"ease"`
	Timestamp    time.Time `json:"timestamp"`

	// Interval in days as computed by the host, before rescheduling
	BaselineInterval float64 `json:"baselineInterval"`

	// Interval in days after rescheduling (equal to the baseline when unmatched)
	AdjustedInterval float64 `json:"adjustedInterval"`

	// Matched is false when no rule applied or the baseline was zero
	Matched    bool    `json:"matched"`
	TargetFI   float64 `json:"targetFi,omitempty"`
	BaselineFI float64 `json:"baselineFi,omitempty"`

	Metadata AdjustmentMetadata `json:"metadata"`
}

// AdjustmentMetadata contains processing information.
type AdjustmentMetadata struct {
	TraceID       string `json:"traceId"`
	RuleRevision  int    `json:"ruleRevision"`
	RulesLoaded   int    `json:"rulesLoaded"`
	DurationUs    int64  `json:"durationUs"`
	EngineVersion string `json:"engineVersion"`
}

// Ratio returns AdjustedInterval / BaselineInterval, or 1 for a zero baseline.
func (a *Adjustment) Ratio() float64 {
	if a.BaselineInterval == 0 {
		return 1
	}
	return a.AdjustedInterval / a.BaselineInterval
}
