package domain

import "time"

// Rule language tokens.
const (
	// RuleDelimiter separates the fields of a rule line.
	RuleDelimiter = "::"

	// Wildcard matches any deck, tag set or condition.
	Wildcard = "*"

	// CommentMarker starts a comment line.
	CommentMarker = "#"

	// DefaultBaselineFI is the forgetting index (percent) the host algorithm is
	// assumed to produce when a rule omits the fifth field.
	DefaultBaselineFI = 10
)

// Rule is one parsed line of the rule configuration.
// Forgetting indexes are kept as written, in percent (5 means 5%).
type Rule struct {
	Deck       string  `json:"deck"`
	Tags       string  `json:"tags"` // tag list or model name
	Condition  string  `json:"condition"`
	TargetFI   float64 `json:"targetFi"`
	BaselineFI float64 `json:"baselineFi"`

	// Line is the 1-based line number in the source text.
	Line int `json:"line"`

	// Source is the raw line as written.
	Source string `json:"source"`
}

// Match converts the rule's forgetting indexes to fractions.
func (r *Rule) Match() Match {
	return Match{
		TargetFI:   r.TargetFI / 100.0,
		BaselineFI: r.BaselineFI / 100.0,
	}
}

// Match is the effect of the winning rule for an item.
// Both values are fractions in (0, 1), e.g. 5% is 0.05.
type Match struct {
	TargetFI   float64 `json:"targetFi"`
	BaselineFI float64 `json:"baselineFi"`
}

// Diagnostic describes a rule line that was skipped during parsing.
type Diagnostic struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// Diagnostic reasons.
const (
	ReasonFieldCount   = "expected 4 or 5 fields"
	ReasonUnparsable   = "forgetting index is not a number"
	ReasonNonPositive  = "forgetting index must be greater than 0%"
	ReasonTooLarge     = "forgetting index must be less than 100%"
	ReasonBadCondition = "condition must be new, young, mature or *"
	ReasonEncoding     = "rule is not valid UTF-8"
)

// RuleDocument is a stored revision of the raw rule configuration text.
// Text is kept byte for byte; comments and formatting are never rewritten.
type RuleDocument struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collectionId"`
	Revision     int       `json:"revision"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DefaultRulesText is written when no configuration exists yet.
const DefaultRulesText = `# Put rules here for changing the forgetting index of specific cards
# Rule format:
# deck :: tag(s)/model :: condition :: FI (:: original FI)
# See help for more details
# Example: Change the forgetting index for all cards to 5%
# * :: * :: * :: 5%`
