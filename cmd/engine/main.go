// Command engine boots the scheduled web-to-database extraction
// process: it loads configuration from the environment, wires the
// control-plane repository, connector registry, scraper, LLM clients,
// executor, and scheduler together, then blocks serving scheduled runs
// until interrupted.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Fazmin/syncengine/internal/api"
	"github.com/Fazmin/syncengine/internal/audit"
	"github.com/Fazmin/syncengine/internal/config"
	"github.com/Fazmin/syncengine/internal/crypto"
	"github.com/Fazmin/syncengine/internal/executor"
	"github.com/Fazmin/syncengine/internal/llmclient"
	"github.com/Fazmin/syncengine/internal/llmextractor"
	"github.com/Fazmin/syncengine/internal/logging"
	"github.com/Fazmin/syncengine/internal/mapper"
	"github.com/Fazmin/syncengine/internal/models"
	"github.com/Fazmin/syncengine/internal/repository"
	"github.com/Fazmin/syncengine/internal/scheduler"
	"github.com/Fazmin/syncengine/internal/scraper"
	"github.com/Fazmin/syncengine/internal/staging"
)

// llmExtractor is structurally identical to executor.structuredExtractor
// and api.columnAnalyzer combined; declaring it here lets main leave the
// interface genuinely nil when no LLM provider is configured, instead
// of passing a typed nil *llmextractor.Extractor into those packages'
// interface parameters (which would make e.llm == nil false and panic
// on first use).
type llmExtractor interface {
	AnalyzeColumns(ctx context.Context, model, pageText string, columns []models.ColumnInfo) ([]llmextractor.ColumnAvailability, error)
	BuildCaptureConfig(ctx context.Context, model, tableName string, selections []llmextractor.ColumnSelection, instructions string) (*models.LLMCaptureConfig, error)
	ExtractStructured(ctx context.Context, cfg *models.LLMCaptureConfig, pageText string) ([]map[string]any, error)
	ExtractStructuredRaw(ctx context.Context, cfg *models.LLMCaptureConfig, pageText string) ([]map[string]any, string, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("engine: config load failed", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, TTY: cfg.LogTTY})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("engine: exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	repo, err := repository.Open(cfg.ControlPlaneDSN)
	if err != nil {
		return err
	}
	defer repo.Close()

	secretBox, err := crypto.NewSecretBox(cfg.SecretPassphrase, cfg.SecretSalt)
	if err != nil {
		return err
	}

	stagingStore, err := staging.New(cfg.StagingDir, cfg.StagingSpillSize)
	if err != nil {
		return err
	}

	httpFetcher := scraper.NewHTTPFetcher(30 * time.Second)
	var browserFetcher scraper.Fetcher
	if cfg.BrowserExecutablePath != "" {
		bf, err := scraper.NewBrowserFetcher(cfg.BrowserPoolSize, cfg.BrowserExecutablePath)
		if err != nil {
			logger.Warn("engine: browser fetcher unavailable, browser-type web sources will fail", "error", err)
		} else {
			browserFetcher = bf
		}
	}
	scr := scraper.New(httpFetcher, browserFetcher, logger)

	llmClient := buildLLMClient(cfg)
	llm := buildLLMExtractor(llmClient)
	suggester := mapper.New(llmClient, cfg.LLMModel, logger)

	auditSink := audit.NewLogSink(logger)
	exec := executor.New(repo, scr, llm, stagingStore, secretBox, auditSink, logger)

	sched := scheduler.New(repo, exec, cfg.MaxConcurrentJobs, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := sched.Initialize(ctx); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	extractionAPI := api.NewExtractionAPI(repo, sched, exec, stagingStore, logger)
	analysisAPI := api.NewAnalysisAPI(repo, scr, llm, suggester, secretBox, logger)
	schedulerAPI := api.NewSchedulerAPI(sched)

	logger.Info("engine: started", "control_plane_dsn", cfg.ControlPlaneDSN, "max_concurrent_jobs", cfg.MaxConcurrentJobs)

	// The process's job-control surface (ExtractionAPI/AnalysisAPI/
	// SchedulerAPI) is wired here for an admin server to mount; with no
	// HTTP layer in scope, the engine itself just keeps the scheduler
	// running until a signal arrives.
	_ = extractionAPI
	_ = analysisAPI
	_ = schedulerAPI

	<-ctx.Done()
	logger.Info("engine: shutdown signal received")
	return nil
}

func buildLLMClient(cfg *config.Config) llmclient.LLMClient {
	switch {
	case cfg.AnthropicAPIKey != "":
		return llmclient.NewAnthropicClient(cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		return llmclient.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.LLMBaseURL)
	default:
		return nil
	}
}

func buildLLMExtractor(client llmclient.LLMClient) llmExtractor {
	if client == nil {
		return nil
	}
	return llmextractor.New(client)
}
