package domain

import (
	"strings"
	"testing"
)

func TestIntervalRequestCheck(t *testing.T) {
	req := IntervalRequest{
		Item:             Item{Deck: "  Japanese ", Maturity: "Young"},
		Ease:             3,
		BaselineInterval: 8,
	}
	if err := req.Check(); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if req.Item.Deck != "Japanese" || req.Item.Maturity != MaturityYoung {
		t.Errorf("item not normalized: %+v", req.Item)
	}

	tests := []struct {
		name  string
		req   IntervalRequest
		field string
	}{
		{"NegativeBaseline", IntervalRequest{Item: Item{Deck: "d", Maturity: MaturityNew}, Ease: 3, BaselineInterval: -3}, "BaselineInterval"},
		{"EaseOutOfRange", IntervalRequest{Item: Item{Deck: "d", Maturity: MaturityNew}, Ease: 5}, "Ease"},
		{"BadMaturity", IntervalRequest{Item: Item{Deck: "d", Maturity: "old"}, Ease: 1}, "Maturity"},
		{"MissingDeck", IntervalRequest{Item: Item{Deck: "  ", Maturity: MaturityNew}, Ease: 1}, "Deck"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Check()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestValidCollectionID(t *testing.T) {
	for _, id := range []string{"default", "spanish_2", "a-b"} {
		if !ValidCollectionID(id) {
			t.Errorf("ValidCollectionID(%q) = false", id)
		}
	}
	for _, id := range []string{"", "a.b", "a b", "x/y", strings.Repeat("a", 65)} {
		if ValidCollectionID(id) {
			t.Errorf("ValidCollectionID(%q) = true", id)
		}
	}
}
