//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running findex server.
//
// The tests replace the rule text of their own collection, then check lookups,
// interval adjustments and stored adjustment records:
//
//	PUT /rules → POST /lookup → POST /intervals → GET /adjustments/{id}
//
// Run with: FINDEX_TEST_URL=http://localhost:8080 go test -tags=integration -v ./tests/integration/...
//
// RULES USED BY THE SCENARIOS:
//
// | Line | Rule                                    | Effect                         |
// |------|-----------------------------------------|--------------------------------|
// | 2    | * :: * :: * :: 5                        | every card at 5%               |
// | 3    | Japanese :: sentence :: young :: 3 :: 8 | young sentences 3%, base 8%    |
// | 4    | * :: leech :: * :: 20                   | leeches at 20%                 |
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"testing"
	"time"
)

const testRules = `# integration rules
* :: * :: * :: 5
Japanese :: sentence :: young :: 3 :: 8
* :: leech :: * :: 20
`

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL      string
	CollectionID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("FINDEX_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:      baseURL,
		CollectionID: fmt.Sprintf("it-%d", time.Now().UnixNano()),
	}
}

// Item is a card as sent to the API.
type Item struct {
	ID       string   `json:"id,omitempty"`
	Deck     string   `json:"deck"`
	Tags     []string `json:"tags,omitempty"`
	Maturity string   `json:"maturity"`
}

// LookupResponse is what POST /lookup returns
type LookupResponse struct {
	Matched    bool    `json:"matched"`
	TargetFI   float64 `json:"targetFi"`
	BaselineFI float64 `json:"baselineFi"`
	Line       int     `json:"line"`
}

// Adjustment is what POST /intervals and GET /adjustments/{id} return
type Adjustment struct {
	ID               string  `json:"id"`
	ItemID           string  `json:"itemId"`
	Matched          bool    `json:"matched"`
	BaselineInterval float64 `json:"baselineInterval"`
	AdjustedInterval float64 `json:"adjustedInterval"`
	Metadata         struct {
		RuleRevision int `json:"ruleRevision"`
	} `json:"metadata"`
}

func call(t *testing.T, config TestConfig, method, path string, req any, wantStatus int, dst any) {
	t.Helper()

	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Collection-ID", config.CollectionID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("Expected status %d, got %d: %s", wantStatus, resp.StatusCode, string(respBody))
	}
	if dst != nil {
		if err := json.Unmarshal(respBody, dst); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
}

func setup(t *testing.T) TestConfig {
	t.Helper()
	config := getTestConfig()
	call(t, config, http.MethodPut, "/rules", map[string]string{"text": testRules}, http.StatusOK, nil)
	return config
}

func TestLookup_LastMatchWins(t *testing.T) {
	config := setup(t)

	tests := []struct {
		name   string
		item   Item
		target float64
		line   int
	}{
		{"Fallback", Item{Deck: "French", Maturity: "mature"}, 0.05, 2},
		{"YoungSentence", Item{Deck: "Japanese", Tags: []string{"sentence"}, Maturity: "young"}, 0.03, 3},
		{"MatureSentenceFallsBack", Item{Deck: "Japanese", Tags: []string{"sentence"}, Maturity: "mature"}, 0.05, 2},
		{"LeechOverridesSentence", Item{Deck: "Japanese", Tags: []string{"sentence", "leech"}, Maturity: "young"}, 0.20, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result LookupResponse
			call(t, config, http.MethodPost, "/lookup", map[string]any{"item": tt.item}, http.StatusOK, &result)

			if !result.Matched {
				t.Fatalf("Expected a match")
			}
			if math.Abs(result.TargetFI-tt.target) > 1e-12 {
				t.Errorf("Expected target %.2f, got %.4f", tt.target, result.TargetFI)
			}
			if result.Line != tt.line {
				t.Errorf("Expected line %d, got %d", tt.line, result.Line)
			}
		})
	}
}

func TestIntervals_AdjustedAndStored(t *testing.T) {
	/*
	   SCENARIO: a young Japanese sentence with a host interval of 10 days

	   EXPECTED BEHAVIOR:
	   - line 3 wins: target 3%, baseline 8%
	   - adjusted = 10 * ln(0.97) / ln(0.92) ≈ 3.653 days
	*/
	config := setup(t)

	var adj Adjustment
	call(t, config, http.MethodPost, "/intervals", map[string]any{
		"item":             Item{ID: "card-it-1", Deck: "Japanese", Tags: []string{"sentence"}, Maturity: "young"},
		"ease":             3,
		"baselineInterval": 10,
	}, http.StatusOK, &adj)

	want := 10 * math.Log(0.97) / math.Log(0.92)
	if math.Abs(adj.AdjustedInterval-want) > 1e-9 {
		t.Errorf("Expected %.4f, got %.4f", want, adj.AdjustedInterval)
	}
	if adj.Metadata.RuleRevision != 1 {
		t.Errorf("Expected rule revision 1, got %d", adj.Metadata.RuleRevision)
	}

	var stored Adjustment
	call(t, config, http.MethodGet, "/adjustments/"+adj.ID, nil, http.StatusOK, &stored)
	if stored.ItemID != "card-it-1" {
		t.Errorf("Expected item card-it-1, got %s", stored.ItemID)
	}

	t.Logf("✓ interval adjusted: %.2f -> %.2f", adj.BaselineInterval, adj.AdjustedInterval)
}

func TestIntervals_NewCardUnchanged(t *testing.T) {
	config := setup(t)

	var adj Adjustment
	call(t, config, http.MethodPost, "/intervals", map[string]any{
		"item":             Item{ID: "card-it-2", Deck: "French", Maturity: "new"},
		"ease":             1,
		"baselineInterval": 0,
	}, http.StatusOK, &adj)

	if adj.Matched || adj.AdjustedInterval != 0 {
		t.Errorf("Expected untouched zero interval, got %+v", adj)
	}
}

func TestRules_RevisionsIncrease(t *testing.T) {
	config := setup(t)

	var put struct {
		Revision int `json:"revision"`
	}
	call(t, config, http.MethodPut, "/rules", map[string]string{"text": "* :: * :: * :: 7"}, http.StatusOK, &put)
	if put.Revision != 2 {
		t.Errorf("Expected revision 2, got %d", put.Revision)
	}

	var rules struct {
		Text string `json:"text"`
	}
	call(t, config, http.MethodGet, "/rules", nil, http.StatusOK, &rules)
	if rules.Text != "* :: * :: * :: 7" {
		t.Errorf("Expected verbatim rule text, got %q", rules.Text)
	}
}

func TestMissingCollectionHeader_Error(t *testing.T) {
	config := getTestConfig()
	config.CollectionID = ""

	call(t, config, http.MethodGet, "/rules", nil, http.StatusBadRequest, nil)
}
