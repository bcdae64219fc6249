package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/internal/api"
	"github.com/satriahrh/callrelay/internal/auth"
	"github.com/satriahrh/callrelay/internal/config"
	"github.com/satriahrh/callrelay/internal/relay"
	"github.com/satriahrh/callrelay/internal/responder"
	"github.com/satriahrh/callrelay/internal/session"
	"github.com/satriahrh/callrelay/internal/transcript"
	"github.com/satriahrh/callrelay/internal/websocket"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long:  "Serves the call webhooks, the relay websocket and the admin API. Calls left open by a previous run are resumed on start.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	// Initialize logger
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize adapters
	store, err := openStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close(context.Background())

	model, err := newLanguageModel(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("create language model: %w", err)
	}

	signer, err := auth.NewSigner(cfg.Relay.JWTSecret, cfg.Relay.TokenTTL)
	if err != nil {
		return err
	}

	// The hub is the outbound sink of the sessions and the inbound
	// transport of the router.
	hub := websocket.NewHub(logger)
	transcripts := transcript.NewRegistry(store, model, logger)
	manager := session.NewManager(store, transcripts, responder.New(model, hub, logger), hub, session.Config{
		TTL:             cfg.Session.TTL,
		EscalationDigit: cfg.Session.EscalationDigit,
		QueueSize:       cfg.Session.QueueSize,
	}, logger)
	hub.SetRouter(relay.NewRouter(manager, logger))

	go hub.Run(ctx)
	manager.StartEventListener(ctx)

	if _, err := manager.Recover(ctx); err != nil {
		logger.Error("Failed to recover open sessions", zap.Error(err))
	}

	var janitor *session.Janitor
	if cfg.Janitor.Schedule != "" {
		janitor = session.NewJanitor(manager, store, cfg.Janitor.Schedule, cfg.Janitor.Retention, logger)
		if err := janitor.Start(); err != nil {
			return err
		}
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Dependencies{
		Manager:     manager,
		Hub:         hub,
		Signer:      signer,
		Sessions:    store,
		Transcripts: store,
		PublicWSURL: cfg.Server.PublicWSURL,
		Logger:      logger,
	})

	port := fmt.Sprintf(":%d", cfg.Server.Port)

	// Graceful shutdown
	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(port); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	logger.Info("Server started",
		zap.String("port", port),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("llm", cfg.LLM.Provider))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("Server failed", zap.Error(err))
	}

	logger.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if janitor != nil {
		janitor.Stop()
	}
	// Suspended calls are resumed by the next serve.
	manager.Shutdown()
	transcripts.Shutdown()
	cancel()

	logger.Info("Server exited")
	return nil
}
