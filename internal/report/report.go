// Package report adds forgetting index lines to an item's statistics.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/findex/internal/domain"
	"github.com/opensource-finance/findex/internal/scheduler"
)

// Line labels.
const (
	LabelForgettingIndex = "Forgetting index"
	LabelOriginalFI      = "Original FI"
	labelOrigInterval    = "Orig interval for %d"
	defaultValue         = "default"
)

// Eases reported in verbose mode.
var Eases = []int{1, 2, 3, 4}

// Line is one label/value row of a report.
type Line struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Report is an ordered list of statistics lines.
type Report struct {
	Lines []Line `json:"lines"`
}

// Add appends a line.
func (r *Report) Add(label, value string) {
	r.Lines = append(r.Lines, Line{Label: label, Value: value})
}

// Value returns the value of the first line with label.
func (r *Report) Value(label string) (string, bool) {
	for _, l := range r.Lines {
		if l.Label == label {
			return l.Value, true
		}
	}
	return "", false
}

// String renders one "label: value" line per row.
func (r *Report) String() string {
	var b strings.Builder
	for _, l := range r.Lines {
		b.WriteString(l.Label)
		b.WriteString(": ")
		b.WriteString(l.Value)
		b.WriteByte('\n')
	}
	return b.String()
}

// Augmenter contributes lines to an item's report.
type Augmenter interface {
	Augment(item domain.Item, r *Report)
}

// AugmenterFunc adapts a function to Augmenter.
type AugmenterFunc func(item domain.Item, r *Report)

// Augment calls f.
func (f AugmenterFunc) Augment(item domain.Item, r *Report) { f(item, r) }

// RuleFinder returns the rule deciding an item.
type RuleFinder interface {
	Winner(item domain.Item) (*domain.Rule, bool)
}

// Reporter appends forgetting index lines after the host's own statistics.
type Reporter struct {
	host     Augmenter
	rules    RuleFinder
	baseline scheduler.IntervalFunc
	verbose  bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithHost sets the augmenter producing the host's statistics lines.
func WithHost(host Augmenter) Option {
	return func(r *Reporter) { r.host = host }
}

// WithVerbose adds the unadjusted interval for each ease, computed by baseline.
func WithVerbose(baseline scheduler.IntervalFunc) Option {
	return func(r *Reporter) {
		r.baseline = baseline
		r.verbose = baseline != nil
	}
}

// New creates a Reporter reading rules from finder.
func New(finder RuleFinder, opts ...Option) *Reporter {
	r := &Reporter{rules: finder}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report builds the full report for item.
func (r *Reporter) Report(item domain.Item) *Report {
	rep := &Report{}
	if r.host != nil {
		r.host.Augment(item, rep)
	}
	r.Augment(item, rep)
	return rep
}

// Augment appends the forgetting index lines to rep.
func (r *Reporter) Augment(item domain.Item, rep *Report) {
	rule, ok := r.rules.Winner(item)

	fi := defaultValue
	if ok {
		fi = formatPercent(rule.TargetFI)
	}
	rep.Add(LabelForgettingIndex, fi)

	if ok && rule.BaselineFI != domain.DefaultBaselineFI {
		rep.Add(LabelOriginalFI, formatPercent(rule.BaselineFI))
	}

	if !r.verbose {
		return
	}
	for _, ease := range Eases {
		rep.Add(fmt.Sprintf(labelOrigInterval, ease), fmt.Sprintf("%.2f", r.baseline(item, ease)))
	}
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + "%"
}
