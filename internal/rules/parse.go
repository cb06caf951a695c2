package rules

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/opensource-finance/findex/internal/domain"
)

// DiagnosticSink receives rule lines that were skipped during parsing.
type DiagnosticSink interface {
	ReportInvalidRule(line string)
}

// SinkFunc adapts a function to DiagnosticSink.
type SinkFunc func(line string)

// ReportInvalidRule calls f(line).
func (f SinkFunc) ReportInvalidRule(line string) { f(line) }

// LogSink reports invalid rules through slog.
type LogSink struct {
	Logger       *slog.Logger
	CollectionID string
}

// ReportInvalidRule logs the skipped line at warn level.
func (s LogSink) ReportInvalidRule(line string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("invalid forgetting index rule",
		"collection_id", s.CollectionID,
		"rule", line,
	)
}

// Parse builds a RuleSet from configuration text.
//
// Blank lines and comment lines are ignored. Every other line must hold four or
// five fields separated by "::"; a line that does not parse or validate is
// reported to sink (which may be nil), returned as a diagnostic and skipped.
// Parsing never stops early.
func Parse(text string, sink DiagnosticSink) (*RuleSet, []domain.Diagnostic) {
	set := &RuleSet{}
	var diags []domain.Diagnostic

	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, domain.CommentMarker) {
			continue
		}

		rule, reason := parseLine(line)
		if reason == "" {
			rule.Line = i + 1
			compiled, err := compileRule(rule)
			if err == nil {
				set.rules = append(set.rules, compiled)
				continue
			}
			reason = err.Error()
		}

		diags = append(diags, domain.Diagnostic{Line: i + 1, Text: line, Reason: reason})
		if sink != nil {
			sink.ReportInvalidRule(line)
		}
	}

	return set, diags
}

// parseLine splits and validates a single rule line. A non-empty reason means
// the line is invalid.
func parseLine(line string) (*domain.Rule, string) {
	if !utf8.ValidString(line) {
		return nil, domain.ReasonEncoding
	}

	fields := strings.Split(line, domain.RuleDelimiter)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	rule := &domain.Rule{Source: line}
	var targetText, baselineText string

	switch len(fields) {
	case 4:
		rule.Deck, rule.Tags, rule.Condition, targetText = fields[0], fields[1], fields[2], fields[3]
	case 5:
		rule.Deck, rule.Tags, rule.Condition, targetText, baselineText = fields[0], fields[1], fields[2], fields[3], fields[4]
	default:
		return nil, domain.ReasonFieldCount
	}

	if rule.Condition != domain.Wildcard {
		m, ok := domain.ParseMaturity(rule.Condition)
		if !ok {
			return nil, domain.ReasonBadCondition
		}
		rule.Condition = string(m)
	}

	target, ok := ParsePercent(targetText)
	if !ok {
		return nil, domain.ReasonUnparsable
	}
	baseline := float64(domain.DefaultBaselineFI)
	if len(fields) == 5 {
		if baseline, ok = ParsePercent(baselineText); !ok {
			return nil, domain.ReasonUnparsable
		}
	}

	if target <= 0 || baseline <= 0 {
		return nil, domain.ReasonNonPositive
	}
	if target >= 100 || baseline >= 100 {
		return nil, domain.ReasonTooLarge
	}

	rule.TargetFI = target
	rule.BaselineFI = baseline
	return rule, ""
}

// ParsePercent reads a percentage. Any '%' signs at either end are ignored,
// so "5", "5%" and "%5" are all 5. Integers are tried before floats;
// non-finite values are rejected.
func ParsePercent(s string) (float64, bool) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "%"))
	if n, err := strconv.Atoi(s); err == nil {
		return float64(n), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseTags splits a tag pattern the way the host splits tag fields: on
// whitespace and commas. Tags are lower-cased; duplicates are dropped.
func ParseTags(pattern string) []string {
	parts := strings.FieldsFunc(pattern, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	seen := make(map[string]struct{}, len(parts))
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = foldTag(p)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		tags = append(tags, p)
	}
	return tags
}

// foldTag lower-cases a tag. Bytes that are not valid UTF-8 are kept as they
// are, so distinct malformed tags never fold to the same replacement rune.
func foldTag(tag string) string {
	if utf8.ValidString(tag) {
		return strings.ToLower(tag)
	}
	var b strings.Builder
	b.Grow(len(tag))
	for i := 0; i < len(tag); {
		r, size := utf8.DecodeRuneInString(tag[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteByte(tag[i])
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
		i += size
	}
	return b.String()
}
