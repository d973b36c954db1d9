package main

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

	_ "github.com/lib/pq"
	"github.com/panjf2000/ants/v2"

	"github.com/soochol/flowchat/internal/api"
	"github.com/soochol/flowchat/internal/auth"
	"github.com/soochol/flowchat/internal/config"
	"github.com/soochol/flowchat/internal/dataset"
	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/model"
	"github.com/soochol/flowchat/internal/nodes"
	"github.com/soochol/flowchat/internal/repository"
	"github.com/soochol/flowchat/internal/services"
	"github.com/soochol/flowchat/internal/telemetry"
	"github.com/soochol/flowchat/internal/tools"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		if err := serve(); err != nil {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
		return
	}
	fmt.Println("flowchat v0.1.0")
	fmt.Println("Usage: flowchat serve")
}

func serve() error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracing, err := telemetry.Start(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdownTracing(context.Background())

	pool, err := ants.NewPool(cfg.Engine.Workers, ants.WithNonblocking(true))
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Release()

	catalog, err := model.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("model catalog: %w", err)
	}
	toolReg := tools.Default(nil)

	datasets := dataset.NewMemory()
	if cfg.DatasetsDir != "" {
		if err := datasets.LoadDir(cfg.DatasetsDir); err != nil {
			return fmt.Errorf("datasets: %w", err)
		}
	}

	repo, closeRepo, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer func() {
		if err := closeRepo(); err != nil {
			slog.Warn("close repository", "err", err)
		}
	}()
	if cfg.AppsDir != "" {
		if _, err := repository.LoadAppsDir(ctx, repo, cfg.AppsDir); err != nil {
			return fmt.Errorf("apps: %w", err)
		}
	}

	registry := nodes.DefaultRegistry(nodes.Deps{
		Models:       catalog,
		Tools:        toolReg,
		Datasets:     datasets,
		Apps:         repo,
		MaxHistories: cfg.Engine.MaxHistories,
		Logger:       logger,
	})
	scheduler := engine.New(registry,
		engine.WithPool(pool),
		engine.WithLogger(logger),
		engine.WithTracer(tracer),
		engine.WithNodeTimeout(cfg.Engine.NodeTimeout),
	)

	authorizer := auth.FromConfig(cfg.Auth)
	chatSvc := services.NewChatService(services.ChatServiceDeps{
		Executor:   scheduler,
		Authorizer: authorizer,
		Apps:       repo,
		Chats:      repo,
		Billing:    repo,
		Limiter: services.NewConcurrencyLimiter(services.ConcurrencyLimits{
			GlobalMax: cfg.Engine.MaxRuns,
			PerChat:   cfg.Engine.ChatRuns,
		}),
		MaxHistories: cfg.Engine.MaxHistories,
		Logger:       logger,
	})

	srv := api.NewServer(chatSvc, catalog, toolReg)
	srv.SetLedger(repo, authorizer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting flowchat server", "addr", addr, "database", cfg.Database.Driver, "models", len(catalog.List()))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
