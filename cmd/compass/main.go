package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/northstarfp/compass/pkg/agent"
	"github.com/northstarfp/compass/pkg/auth"
	"github.com/northstarfp/compass/pkg/config"
	"github.com/northstarfp/compass/pkg/ingest"
	"github.com/northstarfp/compass/pkg/logger"
	"github.com/northstarfp/compass/pkg/memory"
	"github.com/northstarfp/compass/pkg/metrics"
	"github.com/northstarfp/compass/pkg/providers"
	"github.com/northstarfp/compass/pkg/store"
	"github.com/northstarfp/compass/pkg/tools"
)

const backfillBatch = 100

// defaultUserID identifies the single operator until multi-user auth
// arrives in front of this service.
const defaultUserID = "advisor"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "compass:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetDebug(cfg.Debug)
	defer logger.Sync()

	if err := os.MkdirAll(cfg.DataPath(), 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	// Capability providers: explicit sentinels when keys are missing, so
	// downstream code branches on availability instead of nil checks.
	var provider providers.LLMProvider
	if cfg.Anthropic.APIKey != "" {
		provider = providers.NewClaudeProvider(cfg.Anthropic.APIKey)
	} else {
		provider = providers.NewUnavailableProvider("ANTHROPIC_API_KEY not set")
	}
	var embedder providers.Embedder
	if cfg.OpenAI.APIKey != "" {
		embedder = providers.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel)
	} else {
		embedder = providers.NewUnavailableEmbedder("OPENAI_API_KEY not set")
	}

	index, err := memory.NewVectorIndex()
	if err != nil {
		return fmt.Errorf("creating vector index: %w", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := memory.Reload(startCtx, db, index); err != nil {
		return fmt.Errorf("reloading vector index: %w", err)
	}

	retriever := memory.NewRetriever(db, embedder, index)
	importer := memory.NewImporter(db, embedder, index)

	// Embed anything imported while the embedder was down.
	if providers.EmbedderAvailable(embedder) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if _, err := memory.Backfill(ctx, db, embedder, index, backfillBatch); err != nil {
				logger.WarnCF("main", "Embedding backfill failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()
	}

	// Stored email credential, refreshed through its token source when
	// possible. Per-request tokens layered on top by the orchestrator.
	authStore := auth.NewStore(cfg.CredentialsDir())
	var emailCreds *auth.CredentialSource
	if src, err := authStore.TokenSource(startCtx, "email"); err != nil {
		logger.WarnCF("main", "No stored email credential", map[string]interface{}{
			"error": err.Error(),
		})
		emailCreds = auth.NewCredentialSource(nil)
	} else {
		emailCreds = auth.NewCredentialSource(src)
	}

	emailDialer := newEmailDialer(cfg.Collaborators.EmailAPI)
	calendar := newCalendarClient(cfg.Collaborators.CalendarAPI)
	crm := newCRMClient(cfg.Collaborators.CRMAPI)

	currentUser := func() string { return defaultUserID }
	registry := tools.NewToolRegistry()
	registry.Register(tools.NewSearchEmailsTool(emailDialer, emailCreds))
	registry.Register(tools.NewSendEmailTool(emailDialer, emailCreds))
	registry.Register(tools.NewSearchContactsTool(crm))
	registry.Register(tools.NewCreateContactTool(crm))
	registry.Register(tools.NewUpdateContactTool(crm))
	registry.Register(tools.NewAddContactNoteTool(crm))
	registry.Register(tools.NewGetAvailableSlotsTool(calendar))
	registry.Register(tools.NewCreateCalendarEventTool(calendar))
	registry.Register(tools.NewSearchCalendarEventsTool(calendar))
	registry.Register(tools.NewCreateTaskTool(db, currentUser))
	registry.Register(tools.NewUpdateTaskTool(db))

	tracker := metrics.NewTracker(cfg.DataPath())
	orchestrator := agent.NewOrchestrator(agent.OrchestratorOptions{
		Provider:       provider,
		Model:          cfg.Anthropic.Model,
		Store:          db,
		Retriever:      retriever,
		Tools:          registry,
		HistoryWindow:  cfg.History.Window,
		RetrievalLimit: cfg.Retrieval.Limit,
		Tracker:        tracker,
	})
	reactor := agent.NewReactor(provider, cfg.Anthropic.Model, db, registry)

	if cfg.Ingest.Schedule != "" && cfg.Collaborators.EmailAPI != "" {
		monitor := ingest.NewMonitor(defaultUserID, cfg.Ingest.Schedule, emailDialer, emailCreds, importer, reactor)
		if err := monitor.Start(); err != nil {
			return fmt.Errorf("starting mailbox monitor: %w", err)
		}
		defer monitor.Stop()
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: newServer(db, importer, orchestrator, reactor, cfg.Webhook.Secret).routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("main", "Compass listening", map[string]interface{}{
			"addr":  cfg.ListenAddr,
			"model": cfg.Anthropic.Model,
			"tools": len(registry.List()),
		})
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.InfoCF("main", "Shutting down", map[string]interface{}{"signal": sig.String()})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
