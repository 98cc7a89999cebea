// Package pipeline sequences the generate and export runs: it drives the
// registry state machine, the code producer, validation, auto-fix and the
// renderers, and streams progress events to the caller.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonathan/animation-agent/internal/llm"
	"github.com/jonathan/animation-agent/internal/metrics"
	"github.com/jonathan/animation-agent/internal/registry"
	"github.com/jonathan/animation-agent/internal/rendering"
	"github.com/jonathan/animation-agent/internal/repair"
	"github.com/jonathan/animation-agent/internal/validation"
)

// Renderer runs the preview, render and merge subprocesses of a run.
// *rendering.Renderer implements it.
type Renderer interface {
	Preview(ctx context.Context, req rendering.PreviewRequest, progress rendering.ProgressFunc) (*rendering.PreviewResult, error)
	Render(ctx context.Context, req rendering.RenderRequest, progress rendering.ProgressFunc) (*rendering.RenderResult, error)
	Export(ctx context.Context, req rendering.ExportRequest, progress rendering.ProgressFunc) (*rendering.ExportResult, error)
	ResolveVideo(ref string) (string, error)
}

// Options tunes an Orchestrator. Zero values take the defaults below.
type Options struct {
	HeartbeatInterval  time.Duration
	SyntaxFixAttempts  int
	RuntimeFixAttempts int
	CancelGrace        time.Duration
	DefaultAspectRatio string
	DefaultQuality     string
}

// Default option values.
const (
	DefaultHeartbeatInterval  = 5 * time.Second
	DefaultSyntaxFixAttempts  = 2
	DefaultRuntimeFixAttempts = 2
	DefaultCancelGrace        = 3 * time.Second
)

const (
	pipelineGenerate = "generate"
	pipelineExport   = "export"
)

// Orchestrator runs pipelines against a shared registry.
type Orchestrator struct {
	registry  *registry.Registry
	producer  llm.CodeProducer
	validator repair.Validator
	renderer  Renderer
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates an Orchestrator. A nil validator uses the default validator.
func New(reg *registry.Registry, producer llm.CodeProducer, validator repair.Validator, renderer Renderer, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.SyntaxFixAttempts <= 0 {
		opts.SyntaxFixAttempts = DefaultSyntaxFixAttempts
	}
	if opts.RuntimeFixAttempts <= 0 {
		opts.RuntimeFixAttempts = DefaultRuntimeFixAttempts
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = DefaultCancelGrace
	}
	if opts.DefaultAspectRatio == "" {
		opts.DefaultAspectRatio = "16:9"
	}
	if opts.DefaultQuality == "" {
		opts.DefaultQuality = "medium"
	}
	if validator == nil {
		validator = validation.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:  reg,
		producer:  producer,
		validator: validator,
		renderer:  renderer,
		opts:      opts,
		logger:    logger.With("component", "pipeline"),
		tracer:    otel.Tracer("animation-agent/pipeline"),
	}
}

// Registry returns the registry runs are tracked in.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Cancel requests cancellation of a run. It returns false for unknown ids.
func (o *Orchestrator) Cancel(runID, reason string) bool {
	return o.registry.CancelRun(runID, reason, o.opts.CancelGrace)
}

// session carries the per-run state of one pipeline invocation.
type session struct {
	o         *Orchestrator
	pipeline  string
	runID     string
	sessionID string
	emit      Emitter
	span      trace.Span
	logger    *slog.Logger
}

// start creates the run, arranges for a canceled ctx to cancel it and opens
// the root span.
func (o *Orchestrator) start(ctx context.Context, pipeline, ownerID, sessionID, message string, emit Emitter) (context.Context, *session, func()) {
	if emit == nil {
		emit = func(Event) {}
	}
	run := o.registry.CreateRun(ownerID, sessionID, message)
	metrics.ActiveRuns.WithLabelValues(pipeline).Inc()

	ctx, span := o.tracer.Start(ctx, "pipeline."+pipeline, trace.WithAttributes(
		attribute.String("run.id", run.RunID),
		attribute.String("run.owner", ownerID),
	))

	stop := context.AfterFunc(ctx, func() {
		o.registry.CancelRun(run.RunID, "client_disconnected", o.opts.CancelGrace)
	})

	s := &session{
		o:         o,
		pipeline:  pipeline,
		runID:     run.RunID,
		sessionID: sessionID,
		emit:      emit,
		span:      span,
		logger:    o.logger.With("run_id", run.RunID, "pipeline", pipeline),
	}
	s.logger.Info("run started", "owner_id", ownerID)

	return ctx, s, func() {
		stop()
		span.End()
		metrics.ActiveRuns.WithLabelValues(pipeline).Dec()
	}
}

func (s *session) event(kind, content string) Event {
	return newEvent(kind, s.runID, s.sessionID, content)
}

func (s *session) content(msg string) {
	s.emit(s.event(EventContent, msg))
}

func (s *session) contentf(format string, args ...any) {
	s.content(fmt.Sprintf(format, args...))
}

func (s *session) canceled() bool {
	return s.o.registry.CancelRequested(s.runID)
}

func (s *session) setState(state registry.State, message string) {
	s.o.registry.SetState(s.runID, state, message)
}

func (s *session) snapshot() registry.Snapshot {
	snap, _ := s.o.registry.Get(s.runID)
	return snap
}

// fail marks the run ERROR and emits RunError followed by a closing
// RunCompleted. A run that was canceled meanwhile finishes as canceled.
func (s *session) fail(msg string) registry.Snapshot {
	return s.failEvent(s.event(EventError, msg))
}

func (s *session) failEvent(ev Event) registry.Snapshot {
	if s.canceled() || !s.o.registry.FailRun(s.runID, ev.Content) {
		return s.finishCanceled()
	}
	s.logger.Warn("run failed", "error", ev.Content)
	s.span.SetStatus(codes.Error, ev.Content)
	metrics.RunsTotal.WithLabelValues(s.pipeline, "error").Inc()

	s.emit(ev)
	s.emit(s.event(EventCompleted, "Run finished with errors."))
	return s.snapshot()
}

// complete marks the run COMPLETED and emits the result twice: once as
// content and once on the closing event.
func (s *session) complete(msg string, videos []rendering.Video) registry.Snapshot {
	if s.canceled() || !s.o.registry.CompleteRun(s.runID, msg) {
		return s.finishCanceled()
	}
	s.logger.Info("run completed", "message", msg)
	metrics.RunsTotal.WithLabelValues(s.pipeline, "completed").Inc()

	ev := s.event(EventContent, msg)
	ev.Videos = videos
	s.emit(ev)

	done := s.event(EventCompleted, msg)
	done.Videos = videos
	s.emit(done)
	return s.snapshot()
}

// finishCanceled waits for the cancellation in flight to settle and emits the
// single closing event naming its reason.
func (s *session) finishCanceled() registry.Snapshot {
	snap := s.awaitTerminal()
	if !snap.State.Terminal() {
		s.o.registry.CancelRun(s.runID, "", s.o.opts.CancelGrace)
		snap = s.snapshot()
	}
	s.logger.Info("run canceled", "state", snap.State, "message", snap.Message)
	metrics.RunsTotal.WithLabelValues(s.pipeline, "canceled").Inc()

	s.emit(s.event(EventCompleted, snap.Message))
	return snap
}

func (s *session) awaitTerminal() registry.Snapshot {
	deadline := time.Now().Add(s.o.opts.CancelGrace + 2*time.Second)
	for {
		snap := s.snapshot()
		if snap.State.Terminal() || time.Now().After(deadline) {
			return snap
		}
		time.Sleep(25 * time.Millisecond)
	}
}

type stageOutcome[T any] struct {
	val T
	err error
}

// runStage runs fn on its own goroutine. While it is in flight the calling
// goroutine relays fn's progress lines as RunContent and emits a heartbeat
// every interval, so events reach the emitter from one goroutine in order.
func runStage[T any](ctx context.Context, s *session, name string, fn func(ctx context.Context, progress rendering.ProgressFunc) (T, error)) (T, error) {
	ctx, span := s.o.tracer.Start(ctx, "stage."+name, trace.WithAttributes(attribute.String("run.id", s.runID)))
	defer span.End()

	start := time.Now()
	lines := make(chan string, 64)
	done := make(chan stageOutcome[T], 1)
	go func() {
		v, err := fn(ctx, func(line string) { lines <- line })
		done <- stageOutcome[T]{val: v, err: err}
	}()

	ticker := time.NewTicker(s.o.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case line := <-lines:
			s.content(line)
		case <-ticker.C:
			elapsed := int(time.Since(start).Seconds())
			hb := s.event(EventHeartbeat, fmt.Sprintf("%s in progress (%ds elapsed)", name, elapsed))
			hb.ElapsedSeconds = elapsed
			s.emit(hb)
		case out := <-done:
			for drained := false; !drained; {
				select {
				case line := <-lines:
					s.content(line)
				default:
					drained = true
				}
			}
			outcome := "ok"
			if out.err != nil {
				outcome = "error"
				span.RecordError(out.err)
				span.SetStatus(codes.Error, out.err.Error())
			}
			metrics.StageDuration.WithLabelValues(name, outcome).Observe(time.Since(start).Seconds())
			return out.val, out.err
		}
	}
}
