package domain

import "strings"

// Maturity classifies an item's review history.
type Maturity string

const (
	MaturityNew    Maturity = "new"
	MaturityYoung  Maturity = "young"
	MaturityMature Maturity = "mature"
)

// Valid reports whether m is one of the known maturity states.
func (m Maturity) Valid() bool {
	switch m {
	case MaturityNew, MaturityYoung, MaturityMature:
		return true
	}
	return false
}

// ParseMaturity returns the maturity named by s, ignoring case and whitespace.
func ParseMaturity(s string) (Maturity, bool) {
	m := Maturity(strings.ToLower(strings.TrimSpace(s)))
	return m, m.Valid()
}

// Item is the read-only view of a card supplied by the host.
type Item struct {
	// Core identifiers
	ID   string `json:"id"`
	Deck string `json:"deck" validate:"required"`

	// Tags attached to the card's fact
	Tags []string `json:"tags,omitempty"`

	// Model (note type) name
	Model string `json:"model,omitempty"`

	Maturity Maturity `json:"maturity" validate:"required,oneof=new young mature"`
}

// AllTags returns the item's tags followed by its model name, so that a rule
// naming a model is matched like a one-element tag set.
func (i Item) AllTags() []string {
	all := make([]string, 0, len(i.Tags)+1)
	all = append(all, i.Tags...)
	if i.Model != "" {
		all = append(all, i.Model)
	}
	return all
}
