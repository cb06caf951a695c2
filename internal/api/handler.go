package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/findex/internal/domain"
	"github.com/opensource-finance/findex/internal/history"
	"github.com/opensource-finance/findex/internal/report"
	"github.com/opensource-finance/findex/internal/repository"
	"github.com/opensource-finance/findex/internal/rules"
	"github.com/opensource-finance/findex/internal/scheduler"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	syncer  *rules.Syncer
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	metrics domain.MetricsCollector
	history *history.Service
	verbose bool
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &Handler{
		syncer:  deps.Syncer,
		repo:    deps.Repository,
		cache:   deps.Cache,
		bus:     deps.Bus,
		metrics: metrics,
		history: history.NewService(deps.Repository),
		verbose: deps.Verbose,
		version: deps.Version,
	}
}

// store returns the request's collection store, loading its stored rules on
// first use. On failure the error response has been written.
func (h *Handler) store(w http.ResponseWriter, r *http.Request) (*rules.Store, bool) {
	collectionID := GetCollectionID(r.Context())
	store, err := h.syncer.Store(r.Context(), collectionID)
	if err != nil {
		slog.Error("failed to load rules", "collection_id", collectionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rules")
		return nil, false
	}
	return store, true
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":       "true",
		"collections": h.syncer.Registry().Collections(),
	})
}

// RuleView is one parsed rule as returned by the API.
type RuleView struct {
	Line       int     `json:"line"`
	Deck       string  `json:"deck"`
	Tags       string  `json:"tags"`
	Condition  string  `json:"condition"`
	TargetFI   float64 `json:"targetFi"`   // percent
	BaselineFI float64 `json:"baselineFi"` // percent
	Predicate  string  `json:"predicate"`
}

func ruleViews(set *rules.RuleSet) []RuleView {
	compiled := set.Compiled()
	views := make([]RuleView, 0, len(compiled))
	for _, c := range compiled {
		views = append(views, RuleView{
			Line:       c.Rule.Line,
			Deck:       c.Rule.Deck,
			Tags:       c.Rule.Tags,
			Condition:  c.Rule.Condition,
			TargetFI:   c.Rule.TargetFI,
			BaselineFI: c.Rule.BaselineFI,
			Predicate:  c.Expression,
		})
	}
	return views
}

// RulesResponse describes a collection's loaded rules.
type RulesResponse struct {
	CollectionID string              `json:"collectionId"`
	Revision     int                 `json:"revision"`
	Text         string              `json:"text"`
	LoadedAt     time.Time           `json:"loadedAt"`
	Rules        []RuleView          `json:"rules"`
	Diagnostics  []domain.Diagnostic `json:"diagnostics"`
}

// GetRules handles GET /rules.
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, RulesResponse{
		CollectionID: store.CollectionID(),
		Revision:     store.Revision(),
		Text:         store.Text(),
		LoadedAt:     store.LoadedAt(),
		Rules:        ruleViews(store.RuleSet()),
		Diagnostics:  nonNil(store.Diagnostics()),
	})
}

// PutRules handles PUT /rules: the text is stored verbatim as a new revision
// and applied. Invalid lines are reported but do not fail the request.
func (h *Handler) PutRules(w http.ResponseWriter, r *http.Request) {
	var req RulesRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	collectionID := GetCollectionID(r.Context())
	doc, diags, err := h.syncer.Save(r.Context(), collectionID, req.Text)
	if err != nil {
		slog.Error("failed to save rules", "collection_id", collectionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rules")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"revision":    doc.Revision,
		"rulesCount":  h.syncer.Registry().Get(collectionID).RulesCount(),
		"diagnostics": nonNil(diags),
	})
}

// ValidateRules handles POST /rules/validate. Nothing is stored.
func (h *Handler) ValidateRules(w http.ResponseWriter, r *http.Request) {
	var req RulesRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	set, diags := rules.Parse(req.Text, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":       len(diags) == 0,
		"rules":       ruleViews(set),
		"diagnostics": nonNil(diags),
	})
}

// ReloadRules handles POST /rules/reload, rebuilding the collection from the
// latest stored document.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	collectionID := GetCollectionID(r.Context())

	store, err := h.syncer.Load(r.Context(), collectionID)
	if errors.Is(err, rules.ErrNoDocument) {
		writeError(w, http.StatusNotFound, "no rules stored for collection")
		return
	}
	if err != nil {
		slog.Error("failed to reload rules", "collection_id", collectionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "rules reloaded successfully",
		"revision":    store.Revision(),
		"rulesCount":  store.RulesCount(),
		"diagnostics": nonNil(store.Diagnostics()),
	})
}

// ListRevisions handles GET /rules/revisions.
func (h *Handler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	docs, err := h.repo.ListRuleDocuments(r.Context(), GetCollectionID(r.Context()), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list revisions")
		return
	}
	if docs == nil {
		docs = []*domain.RuleDocument{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": docs})
}

// RulesHelp handles GET /rules/help.
func (h *Handler) RulesHelp(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rules.HelpText))
}

// LookupResponse is the response of POST /lookup.
type LookupResponse struct {
	Matched    bool    `json:"matched"`
	TargetFI   float64 `json:"targetFi,omitempty"`
	BaselineFI float64 `json:"baselineFi,omitempty"`
	Line       int     `json:"line,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// Lookup handles POST /lookup.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}
	resp := LookupResponse{}
	if rule, ok := store.Winner(req.Item); ok {
		m := rule.Match()
		resp = LookupResponse{
			Matched:    true,
			TargetFI:   m.TargetFI,
			BaselineFI: m.BaselineFI,
			Line:       rule.Line,
			Source:     rule.Source,
		}
	}
	h.metrics.RecordLookup(store.CollectionID(), resp.Matched)
	writeJSON(w, http.StatusOK, resp)
}

// Reschedule handles POST /reschedule.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	interval, err := scheduler.Reschedule(req.Interval, req.TargetFI, req.BaselineFI)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"interval": interval})
}

// ComputeInterval handles POST /intervals: the adjustment is computed,
// stored and announced on the bus.
func (h *Handler) ComputeInterval(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req IntervalRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}
	sched := scheduler.New(store.CollectionID(), store, h.metrics)
	adj, err := sched.Process(&scheduler.Input{
		Item:      req.Item,
		Ease:      req.Ease,
		Baseline:  scheduler.ConstantBaseline(req.BaselineInterval),
		TraceID:   GetTraceID(ctx),
		StartTime: start,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveAdjustment(ctx, store.CollectionID(), adj); err != nil {
			slog.Error("failed to save adjustment", "adjustment_id", adj.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save adjustment")
			return
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(adj)
		if err := h.bus.Publish(ctx, store.CollectionID(), domain.TopicIntervalAdjusted, payload); err != nil {
			slog.Warn("failed to publish adjustment", "adjustment_id", adj.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, adj)
}

// GetAdjustment handles GET /adjustments/{id}.
func (h *Handler) GetAdjustment(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	id := chi.URLParam(r, "id")
	adj, err := h.repo.GetAdjustment(r.Context(), GetCollectionID(r.Context()), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "adjustment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get adjustment")
		return
	}
	writeJSON(w, http.StatusOK, adj)
}

// ItemHistory handles GET /items/{id}/history?window=720h.
func (h *Handler) ItemHistory(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}

	summary, err := h.history.Summarize(r.Context(), GetCollectionID(r.Context()), chi.URLParam(r, "id"), window)
	if errors.Is(err, history.ErrNoRepository) {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to summarize history")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Report handles POST /report, returning the forgetting index lines of an
// item's statistics.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opts []report.Option
	if h.verbose && len(req.BaselineIntervals) == len(report.Eases) {
		intervals := req.BaselineIntervals
		opts = append(opts, report.WithVerbose(func(_ domain.Item, ease int) float64 {
			return intervals[ease-1]
		}))
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}
	rep := report.New(store, opts...).Report(req.Item)
	writeJSON(w, http.StatusOK, rep)
}

func nonNil(diags []domain.Diagnostic) []domain.Diagnostic {
	if diags == nil {
		return []domain.Diagnostic{}
	}
	return diags
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
