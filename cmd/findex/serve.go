package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/findex/internal/api"
	"github.com/opensource-finance/findex/internal/bus"
	"github.com/opensource-finance/findex/internal/cache"
	"github.com/opensource-finance/findex/internal/domain"
	"github.com/opensource-finance/findex/internal/metrics"
	"github.com/opensource-finance/findex/internal/repository"
	"github.com/opensource-finance/findex/internal/rulefile"
	"github.com/opensource-finance/findex/internal/rules"
	"github.com/opensource-finance/findex/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var pro bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the findex HTTP API and worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := domain.DefaultConfig()
			if pro || os.Getenv("FINDEX_TIER") == string(domain.TierPro) {
				cfg = domain.ProConfig()
			}
			cfg.ApplyEnv(os.Getenv)
			if opts.rulesFile != "" {
				cfg.Rules.File = opts.rulesFile
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&pro, "pro", false, "use the Pro tier defaults (PostgreSQL, Redis, NATS)")
	return cmd
}

func serve(parent context.Context, cfg *domain.Config) error {
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting findex",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	var collector domain.MetricsCollector = domain.NopMetrics{}
	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheus(prometheus.DefaultRegisterer, cfg.Metrics.Namespace)
		gatherer = prometheus.DefaultGatherer
	}

	registry := rules.NewRegistry(func(collectionID string) rules.DiagnosticSink {
		return rules.LogSink{CollectionID: collectionID}
	}, collector)
	syncer := rules.NewSyncer(registry, rules.SyncerOptions{
		Repository:  repo,
		Cache:       cacheImpl,
		Bus:         busImpl,
		DocumentTTL: cfg.Cache.DocumentTTL,
		InstanceID:  uuid.New().String(),
	})

	collectionID := cfg.Rules.CollectionID
	collections := workerCollections(collectionID, os.Getenv("FINDEX_COLLECTIONS"))
	rulesPath := rulefile.Resolve(cfg.Rules.File)
	if err := loadInitialRules(ctx, syncer, collectionID, rulesPath); err != nil {
		return err
	}
	if err := loadCollections(ctx, syncer, collections[1:]); err != nil {
		return err
	}

	// Saves made through the API are written back to the rule file.
	syncer.OnSave(func(_ context.Context, doc *domain.RuleDocument) {
		if doc.CollectionID != collectionID {
			return
		}
		if current, _, err := rulefile.Load(rulesPath); err == nil && current == doc.Text {
			return
		}
		if err := rulefile.Save(rulesPath, doc.Text); err != nil {
			slog.Error("failed to write rule file", "path", rulesPath, "error", err)
		}
	})

	if cfg.Rules.Watch {
		watcher, err := rulefile.NewWatcher(rulesPath, func(text string) {
			if text == registry.Get(collectionID).Text() {
				return
			}
			if _, _, err := syncer.Save(ctx, collectionID, text); err != nil {
				slog.Error("failed to apply edited rule file", "path", rulesPath, "error", err)
			}
		}, rulefile.DefaultDebounce)
		if err != nil {
			return fmt.Errorf("create rule file watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("watch rule file: %w", err)
		}
		defer watcher.Stop()
		slog.Info("watching rule file", "path", rulesPath)
	}

	// Worker follows rule updates from other nodes and serves bus requests.
	asyncWorker := worker.NewWorker(busImpl, repo, syncer, collector)
	workerCfg := worker.Config{CollectionIDs: collections}
	if err := asyncWorker.Start(workerCfg); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	slog.Info("worker started", "collection_count", len(workerCfg.CollectionIDs))

	srv := api.NewServer(cfg.Server, api.Deps{
		Syncer:     syncer,
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Metrics:    collector,
		Gatherer:   gatherer,
		Verbose:    cfg.Rules.Verbose,
		Version:    Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("findex is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, rulesPath, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
	}

	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("findex shutdown complete")
	return nil
}

// loadInitialRules applies the stored rules for collectionID, then the rule
// file if its text differs from the stored revision.
func loadInitialRules(ctx context.Context, syncer *rules.Syncer, collectionID, path string) error {
	store, err := syncer.Store(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	text, err := loadRuleFile(path)
	if err != nil {
		return fmt.Errorf("read rule file: %w", err)
	}
	if store.Revision() > 0 && text == store.Text() {
		slog.Info("rules loaded", "collection_id", collectionID, "revision", store.Revision(), "rules_count", store.RulesCount())
		return nil
	}

	doc, diags, err := syncer.Save(ctx, collectionID, text)
	if err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	slog.Info("rules loaded from file",
		"collection_id", collectionID,
		"path", path,
		"revision", doc.Revision,
		"rules_count", store.RulesCount(),
		"invalid", len(diags),
	)
	return nil
}

// loadCollections applies the stored rules of collections that have no rule
// file.
func loadCollections(ctx context.Context, syncer *rules.Syncer, collectionIDs []string) error {
	for _, id := range collectionIDs {
		store, err := syncer.Store(ctx, id)
		if err != nil {
			return fmt.Errorf("load rules for %s: %w", id, err)
		}
		slog.Info("rules loaded", "collection_id", id, "revision", store.Revision(), "rules_count", store.RulesCount())
	}
	return nil
}

// workerCollections returns primary followed by the comma separated extra
// collections, without duplicates.
func workerCollections(primary, extra string) []string {
	ids := []string{primary}
	seen := map[string]bool{primary: true}
	for _, id := range strings.Split(extra, ",") {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func printBanner(cfg *domain.Config, rulesPath, version string) {
	fmt.Println()
	fmt.Println("  findex - forgetting index scheduling")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Rules:    %s\n", rulesPath)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /rules              - Current rules and diagnostics")
	fmt.Println("    PUT  /rules              - Replace the rule text")
	fmt.Println("    POST /rules/validate     - Parse rules without applying them")
	fmt.Println("    POST /rules/reload       - Reload rules from the database")
	fmt.Println("    GET  /rules/revisions    - List stored revisions")
	fmt.Println("    GET  /rules/help         - Rule language help")
	fmt.Println("    POST /lookup             - Find the rule for a card")
	fmt.Println("    POST /reschedule         - Convert an interval")
	fmt.Println("    POST /intervals          - Adjust and record a card's interval")
	fmt.Println("    GET  /adjustments/{id}   - Get an adjustment by ID")
	fmt.Println("    GET  /items/{id}/history - Adjustment history of a card")
	fmt.Println("    POST /report             - Card statistics lines")
	fmt.Println("    GET  /health             - Health check")
	fmt.Println("    GET  /metrics            - Prometheus metrics")
	fmt.Println()
}
