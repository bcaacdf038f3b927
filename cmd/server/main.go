package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/proofoflearn/backend/internal/account"
	"github.com/proofoflearn/backend/internal/catalog"
	"github.com/proofoflearn/backend/internal/httpapi"
	"github.com/proofoflearn/backend/internal/lightning"
	"github.com/proofoflearn/backend/internal/platform/cache"
	"github.com/proofoflearn/backend/internal/platform/config"
	"github.com/proofoflearn/backend/internal/platform/database"
	"github.com/proofoflearn/backend/internal/progress"
	"github.com/proofoflearn/backend/internal/zkcert"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	api, err := buildServer(ctx, cfg)
	if err != nil {
		slog.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// buildServer wires the collaborators. Postgres and Redis are optional; with
// no URLs configured everything runs in-memory, which is enough for local
// development.
func buildServer(ctx context.Context, cfg *config.Config) (*httpapi.Server, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	readyChecks := make(map[string]func(context.Context) error)

	var remote progress.Remote
	var accounts account.Directory
	if cfg.Database.URL != "" {
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		remote, err = progress.NewPostgresRemote(db.Pool)
		if err != nil {
			return nil, err
		}
		accounts, err = account.NewPostgresDirectory(db.Pool)
		if err != nil {
			return nil, err
		}
		readyChecks["database"] = db.HealthCheck
		slog.Info("using postgres persistence")
	} else {
		remote = progress.NewMemoryRemote()
		accounts = account.NewMemoryDirectory()
		slog.Warn("no database configured, progress is not durable")
	}

	var snapshots progress.SnapshotCache
	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting to cache: %w", err)
		}
		snapshots, err = progress.NewRedisSnapshotCache(c.Client)
		if err != nil {
			return nil, err
		}
		readyChecks["cache"] = c.HealthCheck
		slog.Info("using redis snapshot cache")
	} else {
		snapshots = progress.NewMemorySnapshotCache()
	}

	hub := progress.NewHub()
	store, err := progress.NewStore(progress.StoreConfig{
		Catalog:   cat,
		Remote:    remote,
		Snapshots: snapshots,
		Accounts:  accounts,
		Events:    hub,
	})
	if err != nil {
		return nil, fmt.Errorf("building progress store: %w", err)
	}

	issuer := zkcert.NewMockIssuer()
	issuer.ProofDelay = cfg.ZKCert.ProofDelay
	issuer.MintDelay = cfg.ZKCert.MintDelay

	var node lightning.Node
	if cfg.Lightning.Enabled {
		mock := lightning.NewMockNode()
		mock.Delay = cfg.Lightning.InvoiceDelay
		node = mock
	}

	return httpapi.New(httpapi.Config{
		Catalog:     cat,
		Store:       store,
		Accounts:    accounts,
		Issuer:      issuer,
		Lightning:   node,
		Events:      hub,
		ReadyChecks: readyChecks,
	})
}
