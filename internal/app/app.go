package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"LectureNotes/internal/config"
	"LectureNotes/internal/infrastructure/document"
	"LectureNotes/internal/infrastructure/ml"
	"LectureNotes/internal/infrastructure/openai"
	"LectureNotes/internal/infrastructure/resilience"
	"LectureNotes/internal/infrastructure/scheduler"
	"LectureNotes/internal/logging"
	"LectureNotes/internal/ports"
	"LectureNotes/internal/registry"
	"LectureNotes/internal/tracing"
	"LectureNotes/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	pipeline  *usecase.Pipeline
	documents *document.Registry
	reaper    *usecase.Scheduler
	closers   []func(context.Context) error
}

type backends struct {
	stt     ports.Transcriber
	caption ports.Captioner
	summary ports.Summarizer
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	jobs, err := a.openRegistry(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	b, err := newBackends(cfg.Backends)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	b = guarded(b, cfg.Pipeline, baseLogger)

	opts, err := usecase.OptionsFromConfig(cfg.Pipeline)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("pipeline options: %w", err)
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Registry:    jobs,
		Transcriber: b.stt,
		Captioner:   b.caption,
		Summarizer:  b.summary,
		Options:     opts,
		Logger:      baseLogger.With("component", "pipeline"),
	})
	a.documents = document.NewDefaultRegistry(baseLogger.With("component", "documents"))
	a.reaper = usecase.NewScheduler(scheduler.NewTickerScheduler(cfg.Pipeline.ReaperInterval), a.pipeline)
	return a, nil
}

func (a *Application) openRegistry(ctx context.Context) (ports.JobRegistry, error) {
	cfg := a.cfg.Registry
	switch cfg.Driver {
	case "postgres":
		pg, err := registry.OpenPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.Table)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			pg.Close()
			return nil
		})
		return pg, nil
	case "redis":
		rd, err := registry.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix, cfg.Redis.TTL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return rd.Close() })
		return rd, nil
	default:
		return registry.NewMemory(), nil
	}
}

func newBackends(cfg config.BackendsConfig) (backends, error) {
	switch cfg.Provider {
	case "ml":
		client := ml.NewClient(cfg.ML)
		return backends{stt: client, caption: client, summary: client}, nil
	default:
		if cfg.OpenAI.APIKey == "" {
			return backends{}, errors.New("backends.openai.apiKey is required for the openai provider")
		}
		cli := openai.NewAPIClient(cfg.OpenAI)
		return backends{
			stt:     openai.NewTranscriber(cli, cfg.OpenAI),
			caption: openai.NewCaptioner(cli, cfg.OpenAI),
			summary: openai.NewSummarizer(cli, cfg.OpenAI),
		}, nil
	}
}

// guarded wraps each backend with its own retry policy and circuit breaker.
func guarded(b backends, cfg config.PipelineConfig, logger *slog.Logger) backends {
	policy := resilience.Policy{Retry: cfg.Retry, Breaker: cfg.Breaker, Timeout: cfg.BackendTimeout}
	guard := func(name string) *resilience.Guard {
		return resilience.NewGuard(name, policy, logger.With("component", "backend."+name))
	}
	return backends{
		stt:     resilience.NewTranscriber(b.stt, guard("stt")),
		caption: resilience.NewCaptioner(b.caption, guard("caption")),
		summary: resilience.NewSummarizer(b.summary, guard("summary")),
	}
}

// Pipeline exposes the orchestrator.
func (a *Application) Pipeline() *usecase.Pipeline {
	return a.pipeline
}

// Documents exposes the slide deck loaders.
func (a *Application) Documents() *document.Registry {
	return a.documents
}

// Start launches background maintenance such as the idle session reaper.
func (a *Application) Start(ctx context.Context) error {
	return a.reaper.Start(ctx)
}

// Close stops background work, running jobs and external connections.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.reaper != nil {
		errs = append(errs, a.reaper.Stop(ctx))
	}
	if a.pipeline != nil {
		errs = append(errs, a.pipeline.Close(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
