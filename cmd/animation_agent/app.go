package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jonathan/animation-agent/internal/config"
	"github.com/jonathan/animation-agent/internal/llm"
	"github.com/jonathan/animation-agent/internal/logging"
	"github.com/jonathan/animation-agent/internal/pipeline"
	"github.com/jonathan/animation-agent/internal/registry"
	"github.com/jonathan/animation-agent/internal/rendering"
	"github.com/jonathan/animation-agent/internal/runstore"
	"github.com/jonathan/animation-agent/internal/tracing"
	"github.com/jonathan/animation-agent/internal/validation"
)

// app is the wired service shared by serve, generate and export.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	registry     *registry.Registry
	orchestrator *pipeline.Orchestrator
	mirror       *runstore.Mirror
	client       llm.Client
	cache        *llm.SourceCache
	logFile      io.Closer
	shutdown     func(context.Context) error
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// newApp builds the registry, its store mirror, the code producer, the
// renderer and the orchestrator from the loaded settings.
func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logOut, logFile := logging.Tee(logOut, logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	logger := logging.NewWithWriter(logOut, cfg.LogLevel)

	var traceOut io.Writer = io.Discard
	if verbose {
		traceOut = os.Stderr
	}
	shutdown, err := tracing.Init(logging.Service, traceOut)
	if err != nil {
		logFile.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, logFile: logFile, shutdown: shutdown}

	store, err := runstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	a.mirror = runstore.NewMirror(store, 0, logger)
	a.registry = registry.New(registry.WithObserver(a.mirror.Observer()), registry.WithLogger(logger))

	producer, err := a.newProducer(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	checker := validation.InterpreterChecker{Python: cfg.PythonBin, Fallback: validation.LexicalChecker{}}

	renderer := rendering.New(a.registry, rendering.Settings{
		ArtifactsDir:         cfg.ArtifactsDir,
		WorkDir:              cfg.WorkDir,
		ManimBin:             cfg.ManimBin,
		FFmpegBin:            cfg.FFmpegBin,
		PreviewTimeout:       cfg.PreviewTimeout(),
		RenderTimeout:        cfg.RenderTimeout(),
		ExportTimeout:        cfg.ExportTimeout(),
		QuietPeriod:          cfg.RenderQuiet(),
		CancelGrace:          cfg.CancelGrace(),
		PreviewQuality:       cfg.PreviewQuality,
		PreviewSampleEvery:   cfg.PreviewSampleEvery,
		PreviewMaxFrames:     cfg.PreviewMaxFrames,
		PreviewLimitActions:  cfg.PreviewLimitActions,
		MaxConcurrentRenders: cfg.MaxConcurrentRenders,
	}, logger)

	a.orchestrator = pipeline.New(a.registry, producer, validation.New(checker), renderer, pipeline.Options{
		HeartbeatInterval:  cfg.HeartbeatInterval(),
		SyntaxFixAttempts:  cfg.SyntaxFixAttempts,
		RuntimeFixAttempts: cfg.RuntimeFixAttempts,
		CancelGrace:        cfg.CancelGrace(),
		DefaultAspectRatio: cfg.DefaultAspectRatio,
		DefaultQuality:     cfg.DefaultRenderQuality,
	}, logger)
	return a, nil
}

// newProducer connects the Gemini client. Without an API key the producer
// fails every call, so inline scene code still renders.
func (a *app) newProducer(ctx context.Context) (llm.CodeProducer, error) {
	if a.cfg.GeminiAPIKey == "" {
		a.logger.Warn("GEMINI_API_KEY not set, code generation disabled")
		return unconfiguredProducer{}, nil
	}

	client, err := llm.NewClient(ctx, llm.DefaultConfig(), a.cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.client = client

	opts := []llm.ProducerOption{
		llm.WithTimeout(a.cfg.LLMTimeout()),
		llm.WithLogger(a.logger),
	}
	if bytes := a.cfg.LLMCacheBytes(); bytes > 0 {
		cache, err := llm.NewSourceCache(bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to create source cache: %w", err)
		}
		a.cache = cache
		opts = append(opts, llm.WithCache(cache))
	}
	return llm.NewProducer(client, opts...), nil
}

// Close releases everything newApp opened. Errors are logged.
func (a *app) Close() {
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Warn("failed to close LLM client", "error", err)
		}
	}
	a.cache.Close()
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.logger.Warn("failed to close run store", "error", err)
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			a.logger.Warn("failed to flush traces", "error", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close() //nolint:errcheck
	}
}

var errNoProducer = errors.New("GEMINI_API_KEY is not configured")

type unconfiguredProducer struct{}

func (unconfiguredProducer) Generate(context.Context, string) (string, error) {
	return "", &llm.GenerationError{Message: "LLM generation unavailable", Cause: errNoProducer}
}

func (unconfiguredProducer) Fix(context.Context, string, string) (string, error) {
	return "", &llm.GenerationError{Message: "LLM auto-fix unavailable", Cause: errNoProducer}
}
