// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/starford/refdraft/internal/api"
	"github.com/starford/refdraft/internal/backfill"
	"github.com/starford/refdraft/internal/inbox"
	"github.com/starford/refdraft/internal/index"
	"github.com/starford/refdraft/internal/itemservice"
	"github.com/starford/refdraft/internal/mcpserver"
	"github.com/starford/refdraft/internal/metrics"
	"github.com/starford/refdraft/internal/sse"
	"github.com/starford/refdraft/internal/storage"
)

// components holds the parts shared by every command.
type components struct {
	cfg    *Config
	logger *slog.Logger
	db     *index.DB
	svc    *itemservice.Service
}

// setup validates options, initializes the logger, opens the store and loads
// the item service. The caller closes rt.db.
func setup(ctx context.Context, app *application, extra ...itemservice.Option) (*components, error) {
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("inbox_path", cfg.Inbox.Path),
		slog.Bool("inbox_enabled", cfg.Inbox.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	opts := append(cfg.ServiceOptions(), itemservice.WithLogger(logger))
	svc := itemservice.New(db, append(opts, extra...)...)
	if err := svc.Load(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("load items: %w", err)
	}
	logger.Info("Items loaded", slog.Int("count", len(svc.Snapshot())))

	return &components{cfg: cfg, logger: logger, db: db, svc: svc}, nil
}

func (rt *components) newImporter() (*inbox.Importer, error) {
	if err := os.MkdirAll(rt.cfg.Inbox.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}
	store, err := storage.NewFS(rt.cfg.Inbox.Path)
	if err != nil {
		return nil, fmt.Errorf("init inbox storage: %w", err)
	}
	return inbox.NewImporter(rt.svc, store, rt.cfg.Inbox.OnDuplicate, rt.logger), nil
}

func logBackfill(logger *slog.Logger, res backfill.Result, err error) {
	if err != nil {
		logger.Error("Hash backfill failed",
			slog.Int("completed", res.Completed),
			slog.Int("total", res.Total),
			slog.String("error", err.Error()))
		return
	}
	logger.Info("Hash backfill finished",
		slog.Int("completed", res.Completed),
		slog.Int("total", res.Total),
		slog.Int("chunks", res.Chunks),
		slog.Int("skipped", res.Skipped))
}

// Run starts the HTTP server, the inbox watcher and the optional startup
// backfill, and blocks until a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svcOpts := []itemservice.Option{itemservice.WithPublisher(broker)}

	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		svcOpts = append(svcOpts, itemservice.WithRecorder(metrics.NewCollector(registry)))
	}

	rt, err := setup(ctx, app, svcOpts...)
	if err != nil {
		return err
	}
	defer rt.db.Close()
	logger := rt.logger

	g, gCtx := errgroup.WithContext(ctx)

	// Background runs started over HTTP stop with the server.
	apiHandler := api.NewHandler(gCtx, rt.svc)
	apiRouter := api.NewRouter(apiHandler, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", metrics.Handler(registry))
	}

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	if cfg.Inbox.Enabled {
		importer, err := rt.newImporter()
		if err != nil {
			return err
		}
		if _, err := importer.Sync(ctx); err != nil {
			logger.Warn("initial inbox sync failed", slog.String("error", err.Error()))
		}

		// Start inbox watcher.
		g.Go(func() error {
			err := importer.Watch(gCtx, cfg.Inbox.Path, cfg.Inbox.Debounce, func(o inbox.Outcome) {
				logger.Info("inbox file processed",
					slog.String("path", o.Path),
					slog.String("status", string(o.Status)),
					slog.String("item_id", o.ItemID))
			})
			if err != nil {
				logger.Error("inbox watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if cfg.Backfill.RunOnStart {
		g.Go(func() error {
			res, err := rt.svc.BackfillHashes(gCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logBackfill(logger, res, err)
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stops the watcher and a running startup backfill.
		return context.Canceled
	})

	err = g.Wait()
	// gCtx is cancelled once Wait returns; a backfill started over HTTP stops
	// between chunks and must finish before the store is closed.
	apiHandler.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunBackfill hashes every legacy reference once and exits.
func RunBackfill(ctx context.Context, opts ...Option) error {
	rt, err := setup(ctx, newApplication(opts))
	if err != nil {
		return err
	}
	defer rt.db.Close()

	res, err := rt.svc.BackfillHashes(ctx)
	logBackfill(rt.logger, res, err)
	return err
}

// RunImport imports the pending inbox files once and exits.
func RunImport(ctx context.Context, opts ...Option) (inbox.Summary, error) {
	rt, err := setup(ctx, newApplication(opts))
	if err != nil {
		return inbox.Summary{}, err
	}
	defer rt.db.Close()

	importer, err := rt.newImporter()
	if err != nil {
		return inbox.Summary{}, err
	}
	return importer.Sync(ctx)
}

// RunMCP serves the MCP tools on stdio until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	rt, err := setup(ctx, app)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	rt.logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.svc, app.version).ServeStdio()
}
