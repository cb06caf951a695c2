package domain

// MetricsCollector receives rule and scheduling measurements.
// Implementations must be safe for concurrent use.
type MetricsCollector interface {
	// RecordReload is called after a rule set is rebuilt.
	RecordReload(collectionID string, rules int, invalid int)

	// RecordLookup is called for every rule lookup.
	RecordLookup(collectionID string, matched bool)

	// RecordAdjustment observes adjusted/baseline for a rescheduled interval.
	RecordAdjustment(collectionID string, ratio float64)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordReload(string, int, int)    {}
func (NopMetrics) RecordLookup(string, bool)        {}
func (NopMetrics) RecordAdjustment(string, float64) {}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ MetricsCollector = NopMetrics{}
