package rules

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/findex/internal/domain"
)

// Store is the reloadable rule store for one collection.
//
// Readers always see a complete RuleSet: Reload builds the new set off to the
// side and swaps it in with a single pointer store.
type Store struct {
	mu           sync.Mutex // serialises reloads
	current      atomic.Pointer[snapshot]
	collectionID string
	sink         DiagnosticSink
	metrics      domain.MetricsCollector
}

type snapshot struct {
	set         *RuleSet
	text        string
	revision    int
	diagnostics []domain.Diagnostic
	loadedAt    time.Time
}

// NewStore creates an empty rule store. sink and metrics may be nil.
func NewStore(collectionID string, sink DiagnosticSink, metrics domain.MetricsCollector) *Store {
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	s := &Store{
		collectionID: collectionID,
		sink:         sink,
		metrics:      metrics,
	}
	s.current.Store(&snapshot{set: &RuleSet{}})
	return s
}

// Reload replaces the rule set with one parsed from text.
// It returns the diagnostics for skipped lines; the valid lines are always applied.
func (s *Store) Reload(text string) []domain.Diagnostic {
	return s.ReloadRevision(text, 0)
}

// ReloadRevision is Reload for text that came from a stored document revision.
func (s *Store) ReloadRevision(text string, revision int) []domain.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, diags := Parse(text, s.sink)
	s.current.Store(&snapshot{
		set:         set,
		text:        text,
		revision:    revision,
		diagnostics: diags,
		loadedAt:    time.Now().UTC(),
	})

	s.metrics.RecordReload(s.collectionID, set.Len(), len(diags))
	return diags
}

// Lookup returns the target and baseline forgetting index for item.
func (s *Store) Lookup(item domain.Item) (domain.Match, bool) {
	match, ok := s.current.Load().set.Lookup(item)
	s.metrics.RecordLookup(s.collectionID, ok)
	return match, ok
}

// Winner returns the rule that decides item, if any.
func (s *Store) Winner(item domain.Item) (*domain.Rule, bool) {
	return s.current.Load().set.Winner(item)
}

// RuleSet returns the current rule set.
func (s *Store) RuleSet() *RuleSet {
	return s.current.Load().set
}

// Text returns the configuration text exactly as last loaded.
func (s *Store) Text() string {
	return s.current.Load().text
}

// Revision returns the document revision last loaded, or 0.
func (s *Store) Revision() int {
	return s.current.Load().revision
}

// Diagnostics returns the diagnostics of the last load.
func (s *Store) Diagnostics() []domain.Diagnostic {
	return append([]domain.Diagnostic(nil), s.current.Load().diagnostics...)
}

// LoadedAt returns when the current rule set was built.
func (s *Store) LoadedAt() time.Time {
	return s.current.Load().loadedAt
}

// RulesCount returns the number of loaded rules.
func (s *Store) RulesCount() int {
	return s.current.Load().set.Len()
}

// CollectionID returns the collection this store serves.
func (s *Store) CollectionID() string {
	return s.collectionID
}

// Registry holds one Store per collection.
type Registry struct {
	mu      sync.RWMutex
	stores  map[string]*Store
	sink    func(collectionID string) DiagnosticSink
	metrics domain.MetricsCollector
}

// NewRegistry creates an empty registry. sink builds the diagnostics sink for a
// new collection and may be nil.
func NewRegistry(sink func(collectionID string) DiagnosticSink, metrics domain.MetricsCollector) *Registry {
	return &Registry{
		stores:  make(map[string]*Store),
		sink:    sink,
		metrics: metrics,
	}
}

// Get returns the store for collectionID, creating an empty one if needed.
func (r *Registry) Get(collectionID string) *Store {
	r.mu.RLock()
	s, ok := r.stores[collectionID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[collectionID]; ok {
		return s
	}
	var sink DiagnosticSink
	if r.sink != nil {
		sink = r.sink(collectionID)
	}
	s = NewStore(collectionID, sink, r.metrics)
	r.stores[collectionID] = s
	return s
}

// Loaded reports whether a store exists for collectionID.
func (r *Registry) Loaded(collectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stores[collectionID]
	return ok
}

// Collections returns the IDs of all known collections, sorted.
func (r *Registry) Collections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
