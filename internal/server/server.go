package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quizforge/quizforge/internal/capability"
	"github.com/quizforge/quizforge/internal/checkout"
	"github.com/quizforge/quizforge/internal/content"
	"github.com/quizforge/quizforge/internal/credits"
	"github.com/quizforge/quizforge/internal/llm"
	"github.com/quizforge/quizforge/internal/logging"
	"github.com/quizforge/quizforge/internal/report"
	"github.com/quizforge/quizforge/internal/store"
)

// Run starts the report service with graceful shutdown.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "quizforge",
	})

	log.Info().Str("version", version).Msg("Starting QuizForge report service")

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Re-initialize logging with configuration-driven settings
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "quizforge",
	})

	secrets, err := capability.ResolveSecrets(cfg.Environment, os.Getenv)
	if err != nil {
		return fmt.Errorf("resolve signing secrets: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	catalog, err := content.LoadCatalog(cfg.ContentDir)
	if err != nil {
		return fmt.Errorf("load content catalog: %w", err)
	}
	if err := catalog.Watch(); err != nil {
		log.Warn().Err(err).Msg("Content watch unavailable, edits require restart")
	}
	defer catalog.Close()

	ledger := credits.NewLedger(secrets.Credits)
	tokens := capability.NewTokens(secrets)

	// Report generation is optional: without a provider key the service
	// still authorizes access and reports generation as unavailable.
	var generator *report.Generator
	if cfg.OpenAIAPIKey != "" {
		client := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		generator = report.NewGenerator(client, cfg.OpenAIModel, cfg.GenerateTimeout)
		log.Info().Str("model", cfg.OpenAIModel).Msg("Report generation configured")
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set, report generation disabled")
	}

	pipeline := report.NewPipeline(st, catalog, generator, cfg.StyleID)
	orchestrator := report.NewOrchestrator(st, catalog, ledger, tokens, pipeline)
	worker := report.NewWorker(st, pipeline, cfg.WorkerInterval, cfg.WorkerBatch)

	sessions := checkout.NewSessionClient(cfg.StripeSecretKey, "")
	confirmer := checkout.NewConfirmer(sessions, st, ledger, tokens)
	webhook := checkout.NewWebhookHandler(cfg.StripeWebhookSecret, st)

	mux := http.NewServeMux()
	deps := &Deps{
		Config:       cfg,
		Store:        st,
		Catalog:      catalog,
		Orchestrator: orchestrator,
		Confirmer:    confirmer,
		Worker:       worker,
		Webhook:      webhook,
		PDF:          report.NewPDFGenerator(),
		Version:      version,
	}
	RegisterRoutes(mux, deps)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(mux),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Create derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.WorkerEnabled {
		go worker.Run(ctx)
	} else {
		log.Info().Msg("In-process worker disabled, jobs run via /api/internal/report-jobs/run")
	}

	// Start server in background
	go func() {
		log.Info().Str("addr", addr).Msg("Report service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Report service stopped")
	return nil
}
