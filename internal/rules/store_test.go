package rules

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/opensource-finance/findex/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	reloads atomic.Int32
	invalid atomic.Int32
	hits    atomic.Int32
	misses  atomic.Int32
}

func (m *countingMetrics) RecordReload(_ string, _ int, invalid int) {
	m.reloads.Add(1)
	m.invalid.Add(int32(invalid))
}

func (m *countingMetrics) RecordLookup(_ string, matched bool) {
	if matched {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
}

func (m *countingMetrics) RecordAdjustment(string, float64) {}

func TestStoreCreation(t *testing.T) {
	store := NewStore("c1", nil, nil)

	assert.Equal(t, 0, store.RulesCount())
	assert.Equal(t, "", store.Text())
	assert.Equal(t, "c1", store.CollectionID())

	_, ok := store.Lookup(domain.Item{Deck: "d", Maturity: domain.MaturityYoung})
	assert.False(t, ok)
}

func TestStoreReload(t *testing.T) {
	metrics := &countingMetrics{}
	var reported []string
	store := NewStore("c1", SinkFunc(func(line string) { reported = append(reported, line) }), metrics)

	text := "# my rules\n* :: * :: * :: 5\nnot a rule\n"
	diags := store.ReloadRevision(text, 3)

	require.Len(t, diags, 1)
	assert.Equal(t, []string{"not a rule"}, reported)
	assert.Equal(t, 1, store.RulesCount())
	assert.Equal(t, text, store.Text(), "text is kept verbatim")
	assert.Equal(t, 3, store.Revision())
	assert.Len(t, store.Diagnostics(), 1)
	assert.False(t, store.LoadedAt().IsZero())
	assert.EqualValues(t, 1, metrics.reloads.Load())
	assert.EqualValues(t, 1, metrics.invalid.Load())

	_, ok := store.Lookup(domain.Item{Deck: "d", Maturity: domain.MaturityYoung})
	assert.True(t, ok)
	assert.EqualValues(t, 1, metrics.hits.Load())

	// Reload replaces the set wholesale.
	store.Reload("Japanese :: * :: * :: 5")
	_, ok = store.Lookup(domain.Item{Deck: "d", Maturity: domain.MaturityYoung})
	assert.False(t, ok)
	assert.EqualValues(t, 1, metrics.misses.Load())
	assert.Equal(t, 0, store.Revision())
}

func TestStoreRoundTrip(t *testing.T) {
	text := "# comment kept\n\n* :: * :: * :: 5\n  Japanese :: sentence :: young :: 15 :: 20  \n"
	first := NewStore("c1", nil, nil)
	first.Reload(text)

	second := NewStore("c1", nil, nil)
	second.Reload(first.Text())

	assert.Equal(t, text, second.Text())
	assert.Equal(t, first.RuleSet().Rules(), second.RuleSet().Rules())

	items := []domain.Item{
		{Deck: "Japanese", Tags: []string{"sentence"}, Maturity: domain.MaturityYoung},
		{Deck: "Japanese", Maturity: domain.MaturityMature},
		{Deck: "Other", Maturity: domain.MaturityNew},
	}
	for _, item := range items {
		m1, ok1 := first.Lookup(item)
		m2, ok2 := second.Lookup(item)
		assert.Equal(t, ok1, ok2)
		assert.Equal(t, m1, m2)
	}
}

func TestStoreConcurrentReloadAndLookup(t *testing.T) {
	store := NewStore("c1", nil, nil)
	store.Reload("* :: * :: * :: 5")

	texts := []string{
		"* :: * :: * :: 5",
		"* :: * :: * :: 7 :: 12",
	}

	var wg sync.WaitGroup
	var torn atomic.Int32
	item := domain.Item{Deck: "d", Maturity: domain.MaturityYoung}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m, ok := store.Lookup(item)
				if !ok {
					torn.Add(1)
					continue
				}
				valid := (m.TargetFI == 0.05 && m.BaselineFI == 0.10) ||
					(m.TargetFI == 0.07 && m.BaselineFI == 0.12)
				if !valid {
					torn.Add(1)
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			store.Reload(texts[j%2])
		}
	}()

	wg.Wait()
	assert.EqualValues(t, 0, torn.Load(), "readers must only see complete rule sets")
}

func TestRegistry(t *testing.T) {
	var sinks []string
	reg := NewRegistry(func(id string) DiagnosticSink {
		sinks = append(sinks, id)
		return nil
	}, nil)

	assert.False(t, reg.Loaded("b"))
	b := reg.Get("b")
	a := reg.Get("a")
	assert.Same(t, b, reg.Get("b"))
	assert.True(t, reg.Loaded("b"))
	assert.Equal(t, []string{"a", "b"}, reg.Collections())
	assert.Equal(t, []string{"b", "a"}, sinks)

	a.Reload("* :: * :: * :: 5")
	assert.Equal(t, 1, a.RulesCount())
	assert.Equal(t, 0, b.RulesCount(), "collections are isolated")
}
