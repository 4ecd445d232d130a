package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/healthscoreai/healthscore/internal/config"
	"github.com/healthscoreai/healthscore/internal/core/ports"
	"github.com/healthscoreai/healthscore/internal/core/usecase"
	"github.com/healthscoreai/healthscore/internal/infrastructure/extractor"
	natsfeed "github.com/healthscoreai/healthscore/internal/infrastructure/feed/nats"
	"github.com/healthscoreai/healthscore/internal/infrastructure/llm/ollama"
	"github.com/healthscoreai/healthscore/internal/infrastructure/notify"
	"github.com/healthscoreai/healthscore/internal/infrastructure/repository/localfs"
	"github.com/healthscoreai/healthscore/internal/infrastructure/repository/postgres"
	"github.com/healthscoreai/healthscore/internal/infrastructure/resilience"
	"github.com/healthscoreai/healthscore/internal/infrastructure/session"
	"github.com/healthscoreai/healthscore/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Store     *notify.Store
	Sessions  ports.SessionProvider
	Extractor ports.TextExtractor
	SyncUC    *usecase.SyncUseCase
	Metrics   *metrics.HTTPServerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	executor := resilience.NewExecutor(resilience.DefaultPolicy())

	backing, closeBacking, err := openBackingStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var feed ports.ChangeFeed
	if cfg.NATSEnabled {
		natsFeed, err := natsfeed.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsfeed.Options{
			ResilienceExecutor: executor,
		})
		if err != nil {
			closeBacking()
			return nil, fmt.Errorf("init change feed: %w", err)
		}
		feed = natsFeed
	}

	store := notify.New(backing, feed)
	if feed != nil {
		// Remote events only re-notify local watchers, so a dropped
		// subscription degrades cross-instance freshness, nothing more.
		go func() {
			if err := feed.SubscribeDocumentChanged(ctx, store.HandleRemoteChange); err != nil && ctx.Err() == nil {
				slog.Error("change_feed_subscribe_failed", "error", err)
			}
		}()
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaModel, ollama.Options{
		Timeout:  time.Duration(cfg.AnalysisTimeoutSeconds) * time.Second,
		Executor: executor,
	})
	analyzer := ollama.NewAnalyzer(ollamaClient)

	sessions := session.NewProvider()
	syncUC := usecase.NewSyncUseCase(store, analyzer, sessions)

	return &App{
		Config:    cfg,
		Store:     store,
		Sessions:  sessions,
		Extractor: extractor.New(),
		SyncUC:    syncUC,
		Metrics:   metrics.NewHTTPServerMetrics("api"),

		closeFn: func() {
			if feed != nil {
				feed.Close()
			}
			closeBacking()
		},
	}, nil
}

func openBackingStore(ctx context.Context, cfg config.Config) (ports.DocumentStore, func(), error) {
	switch cfg.StorageBackend {
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		store := postgres.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, func() { _ = db.Close() }, nil
	case "localfs":
		store, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
