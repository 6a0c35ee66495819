package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tanujdargan/html.ai/internal/bandit"
	"github.com/tanujdargan/html.ai/internal/config"
	"github.com/tanujdargan/html.ai/internal/guardrail"
	"github.com/tanujdargan/html.ai/internal/identity"
	"github.com/tanujdargan/html.ai/internal/ingest"
	"github.com/tanujdargan/html.ai/internal/llm"
	"github.com/tanujdargan/html.ai/internal/observability"
	"github.com/tanujdargan/html.ai/internal/orchestrator"
	"github.com/tanujdargan/html.ai/internal/ratelimit"
	"github.com/tanujdargan/html.ai/internal/regen"
	"github.com/tanujdargan/html.ai/internal/storage"
	"github.com/tanujdargan/html.ai/internal/telemetry"
)

// newLogger writes structured JSON when stdout isn't a terminal
// (containers, log collectors) and a readable text handler in an
// interactive shell, the way the teacher's chat_runner picks a
// rendering mode off isatty.IsTerminal.
func newLogger() *slog.Logger {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer cfg.Purge()

	cleanup, err := telemetry.InitTracer("htmlai-orchestrator")
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer cleanup(cmd.Context())

	store, err := storage.Open(cfg.StorageURI)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	var sink storage.EventSink = storage.NoopEventSink{}
	if cfg.InfluxURL != "" {
		influxSink := storage.NewInfluxEventSink(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, logger)
		defer influxSink.Close()
		sink = influxSink
	}

	metrics := observability.NewPipelineMetrics()

	idResolver := identity.New(store)
	ingestor := ingest.New(store, sink, metrics, 256, cfg.IngestorRateLimitRPS, cfg.IngestorRateLimitBurst, logger)
	defer ingestor.Stop()

	b := bandit.New(store, metrics, logger, cfg.Epsilon, cfg.RegenGap, cfg.MinTrialsEach)

	guard, err := guardrail.New(cfg.GuardrailPolicyPath, cfg.GuardrailMaxHTMLBytes, logger)
	if err != nil {
		return fmt.Errorf("load guardrail policy: %w", err)
	}
	defer guard.Close()

	llmClient, err := newLLMClient(cfg)
	if err != nil {
		return fmt.Errorf("init llm client: %w", err)
	}

	auditRing := orchestrator.NewAuditRing(200)

	regenEngine := regen.New(store, llmClient, metrics, logger, cfg.RegenDeadline, cfg.RegenLockTTL,
		regen.WithGuardrail(guard), regen.WithAuditSink(auditRing))

	apiLimiter := ratelimit.New(cfg.OrchestratorRateLimitRPS, cfg.OrchestratorRateLimitBurst)

	o := orchestrator.New(store, idResolver, ingestor, b, guard, regenEngine, metrics, logger, apiLimiter, auditRing,
		cfg.RequestDeadline, cfg.AggregatorWindow, cfg.AggregatorWindowEvents)

	router := gin.Default()
	orchestrator.SetupRoutes(router, o)

	logger.Info("starting htmlai orchestrator", "port", cfg.Port, "llm_backend", cfg.LLMBackend, "storage", cfg.StorageURI)
	if err := router.Run(":" + cfg.Port); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func newLLMClient(cfg *config.Config) (llm.LLMClient, error) {
	switch cfg.LLMBackend {
	case "openai":
		return llm.NewOpenAIClient(cfg.RevealLLMAPIKey(), cfg.LLMModel)
	case "stub", "":
		return llm.NewStubClient(), nil
	default:
		return nil, fmt.Errorf("unknown LLM_BACKEND %q", cfg.LLMBackend)
	}
}
