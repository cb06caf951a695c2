package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/findex/internal/domain"
)

// ErrNoDocument is returned by Load when a collection has no stored rules.
var ErrNoDocument = errors.New("no rule document stored")

// DefaultDocumentTTL is how long a rule document stays cached.
const DefaultDocumentTTL = 10 * time.Minute

// SaveHook is called after a new revision was saved and loaded.
type SaveHook func(ctx context.Context, doc *domain.RuleDocument)

// Syncer keeps the stores of a Registry in step with the persisted rule
// documents. repo, cache and bus are optional; without a repository Save only
// reloads the in-memory store.
type Syncer struct {
	registry   *Registry
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	ttl        time.Duration
	instanceID string

	saveMu sync.Mutex // orders revisions with reloads
	mu     sync.Mutex
	hooks  []SaveHook
	loaded map[string]bool // collections read from persistence at least once
}

// SyncerOptions configures a Syncer.
type SyncerOptions struct {
	Repository  domain.Repository
	Cache       domain.Cache
	Bus         domain.EventBus
	DocumentTTL time.Duration
	// InstanceID tags published updates so that a node ignores its own.
	InstanceID string
}

// NewSyncer creates a Syncer for registry.
func NewSyncer(registry *Registry, opts SyncerOptions) *Syncer {
	ttl := opts.DocumentTTL
	if ttl <= 0 {
		ttl = DefaultDocumentTTL
	}
	return &Syncer{
		registry:   registry,
		repo:       opts.Repository,
		cache:      opts.Cache,
		bus:        opts.Bus,
		ttl:        ttl,
		instanceID: opts.InstanceID,
		loaded:     make(map[string]bool),
	}
}

// Registry returns the registry the syncer maintains.
func (s *Syncer) Registry() *Registry {
	return s.registry
}

// InstanceID returns the ID stamped on published updates.
func (s *Syncer) InstanceID() string {
	return s.instanceID
}

// OnSave registers a hook run after every successful Save.
func (s *Syncer) OnSave(hook SaveHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Load reloads a collection's store from the latest stored document, reading
// the cache before the repository.
func (s *Syncer) Load(ctx context.Context, collectionID string) (*Store, error) {
	doc, err := s.latest(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	return s.apply(collectionID, doc), nil
}

// Store returns a collection's store, loading the latest stored document the
// first time the collection is used. A collection without stored rules gets
// an empty store.
func (s *Syncer) Store(ctx context.Context, collectionID string) (*Store, error) {
	if s.isLoaded(collectionID) {
		return s.registry.Get(collectionID), nil
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.isLoaded(collectionID) {
		return s.registry.Get(collectionID), nil
	}

	store, err := s.Load(ctx, collectionID)
	switch {
	case errors.Is(err, ErrNoDocument):
		s.markLoaded(collectionID)
		return s.registry.Get(collectionID), nil
	case err != nil:
		return nil, err
	}
	return store, nil
}

func (s *Syncer) isLoaded(collectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[collectionID]
}

func (s *Syncer) markLoaded(collectionID string) {
	s.mu.Lock()
	s.loaded[collectionID] = true
	s.mu.Unlock()
}

// LoadRevision reloads a collection's store from one stored revision. It does
// nothing when the store already holds that revision or a newer one.
func (s *Syncer) LoadRevision(ctx context.Context, collectionID string, revision int) (*Store, error) {
	if s.repo == nil {
		return nil, ErrNoDocument
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if store := s.registry.Get(collectionID); revision <= store.Revision() {
		return store, nil
	}

	doc, err := s.repo.GetRuleDocument(ctx, collectionID, revision)
	if err != nil {
		return nil, fmt.Errorf("get revision %d: %w", revision, err)
	}
	s.cacheDocument(ctx, collectionID, doc)
	return s.apply(collectionID, doc), nil
}

func (s *Syncer) latest(ctx context.Context, collectionID string) (*domain.RuleDocument, error) {
	if s.cache != nil {
		doc, err := s.cache.GetRuleDocument(ctx, collectionID)
		if err != nil {
			slog.Warn("rule document cache read failed", "collection_id", collectionID, "error", err)
		} else if doc != nil {
			return doc, nil
		}
	}

	if s.repo == nil {
		return nil, ErrNoDocument
	}
	doc, err := s.repo.GetLatestRuleDocument(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoDocument, err)
	}
	s.cacheDocument(ctx, collectionID, doc)
	return doc, nil
}

func (s *Syncer) apply(collectionID string, doc *domain.RuleDocument) *Store {
	store := s.registry.Get(collectionID)
	diags := store.ReloadRevision(doc.Text, doc.Revision)
	s.markLoaded(collectionID)
	slog.Info("rules loaded",
		"collection_id", collectionID,
		"revision", doc.Revision,
		"rules_count", store.RulesCount(),
		"invalid_count", len(diags),
	)
	return store
}

// Save stores text as a new revision, reloads the collection and announces the
// change on the bus. Invalid lines never block a save; they are returned as
// diagnostics and the text is kept exactly as given.
func (s *Syncer) Save(ctx context.Context, collectionID string, text string) (*domain.RuleDocument, []domain.Diagnostic, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	doc := &domain.RuleDocument{
		CollectionID: collectionID,
		Text:         text,
		CreatedAt:    time.Now().UTC(),
	}

	if s.repo != nil {
		if err := s.repo.SaveRuleDocument(ctx, collectionID, doc); err != nil {
			return nil, nil, fmt.Errorf("save rule document: %w", err)
		}
	} else {
		doc.Revision = s.registry.Get(collectionID).Revision() + 1
	}

	store := s.registry.Get(collectionID)
	diags := store.ReloadRevision(text, doc.Revision)
	s.markLoaded(collectionID)
	s.cacheDocument(ctx, collectionID, doc)
	s.publish(ctx, doc)

	slog.Info("rules saved",
		"collection_id", collectionID,
		"revision", doc.Revision,
		"rules_count", store.RulesCount(),
		"invalid_count", len(diags),
	)

	s.mu.Lock()
	hooks := append([]SaveHook(nil), s.hooks...)
	s.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx, doc)
	}

	return doc, diags, nil
}

func (s *Syncer) cacheDocument(ctx context.Context, collectionID string, doc *domain.RuleDocument) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetRuleDocument(ctx, collectionID, doc, s.ttl); err != nil {
		slog.Warn("rule document cache write failed", "collection_id", collectionID, "error", err)
	}
}

func (s *Syncer) publish(ctx context.Context, doc *domain.RuleDocument) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.RulesUpdatedEvent{
		CollectionID: doc.CollectionID,
		Revision:     doc.Revision,
		Origin:       s.instanceID,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, doc.CollectionID, domain.TopicRulesUpdated, payload); err != nil {
		slog.Warn("failed to publish rules update", "collection_id", doc.CollectionID, "error", err)
	}
}

// HandleRulesUpdated reloads a collection announced by another instance.
// Updates from this instance and revisions not newer than the loaded one are
// ignored.
func (s *Syncer) HandleRulesUpdated(ctx context.Context, msg *domain.Message) error {
	var event domain.RulesUpdatedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode rules update: %w", err)
	}
	if event.CollectionID == "" {
		event.CollectionID = msg.CollectionID
	}

	if s.instanceID != "" && event.Origin == s.instanceID {
		return nil
	}
	if event.Revision <= s.registry.Get(event.CollectionID).Revision() {
		return nil
	}

	_, err := s.LoadRevision(ctx, event.CollectionID, event.Revision)
	return err
}
