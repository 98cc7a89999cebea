package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jonathan/animation-agent/internal/chartspec"
	"github.com/jonathan/animation-agent/internal/diagnose"
	"github.com/jonathan/animation-agent/internal/intent"
	"github.com/jonathan/animation-agent/internal/llm"
	"github.com/jonathan/animation-agent/internal/metrics"
	"github.com/jonathan/animation-agent/internal/prompts"
	"github.com/jonathan/animation-agent/internal/registry"
	"github.com/jonathan/animation-agent/internal/rendering"
	"github.com/jonathan/animation-agent/internal/repair"
)

// GenerateRequest is one animation request.
type GenerateRequest struct {
	Message     string
	OwnerID     string
	SessionID   string
	DatasetPath string
	ChartSpec   *chartspec.Spec
	AspectRatio string
	Quality     string
	// AllowFix enables the syntax and runtime auto-fix loops.
	AllowFix  bool
	Project   string
	Iteration int
}

// Generate runs the generate pipeline to completion and returns the final
// snapshot of the run. Every outcome, including failure and cancellation, is
// reported through emit and ends with exactly one RunCompleted event.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest, emit Emitter) registry.Snapshot {
	ctx, s, done := o.start(ctx, pipelineGenerate, req.OwnerID, req.SessionID, "Run created", emit)
	defer done()

	if req.AspectRatio == "" {
		req.AspectRatio = o.opts.DefaultAspectRatio
	}
	if req.Quality == "" {
		req.Quality = o.opts.DefaultQuality
	}
	if req.Project == "" {
		req.Project = "project"
	}
	if req.Iteration <= 0 {
		req.Iteration = 1
	}

	s.setState(registry.StateStarting, "Starting")

	hasData := req.ChartSpec != nil || req.DatasetPath != ""
	detected := intent.Detect(req.Message)
	if !detected.Requested && !hasData {
		return s.fail("No animation request detected. Describe the animation you want, paste Manim code, or attach a dataset.")
	}
	if req.ChartSpec != nil {
		s.contentf("Animation intent detected (chart_type=%s, confidence=%.2f). Entering animation pipeline.", req.ChartSpec.ChartType, detected.Score)
	} else {
		s.contentf("Animation intent detected (confidence=%.2f). Entering animation pipeline.", detected.Score)
	}

	source, snap, ok := s.acquire(ctx, req)
	if !ok {
		return snap
	}

	source, snap, ok = s.syntaxGate(ctx, source, req.AllowFix)
	if !ok {
		return snap
	}

	images, source, snap, ok := s.previewLoop(ctx, source, req)
	if !ok {
		return snap
	}
	s.logger.Info("preview accepted", "frames", len(images))

	if s.canceled() {
		return s.finishCanceled()
	}
	s.setState(registry.StateRendering, "Rendering video...")
	s.content("Rendering video...")
	result, err := runStage(ctx, s, "Render", func(ctx context.Context, progress rendering.ProgressFunc) (*rendering.RenderResult, error) {
		return o.renderer.Render(ctx, rendering.RenderRequest{
			RunID:       s.runID,
			Source:      source,
			AspectRatio: req.AspectRatio,
			Quality:     req.Quality,
			OwnerID:     req.OwnerID,
			Project:     req.Project,
			Iteration:   req.Iteration,
		}, progress)
	})
	if err != nil {
		return s.stageFailed(err)
	}

	return s.complete("Render completed.", []rendering.Video{result.Video})
}

// acquire returns the scene source: inline code as given, otherwise the
// producer's answer to the request or to the chart prompt.
func (s *session) acquire(ctx context.Context, req GenerateRequest) (string, registry.Snapshot, bool) {
	if intent.HasCode(req.Message) {
		s.content("Using provided Manim code.")
		return llm.CleanCodeBlock(req.Message), registry.Snapshot{}, true
	}

	prompt := req.Message
	dataset := req.DatasetPath
	if dataset != "" {
		if _, err := os.Stat(dataset); err != nil {
			s.contentf("Dataset file not found at resolved path: %s", dataset)
			dataset = ""
		}
	}
	if req.ChartSpec != nil || dataset != "" {
		s.content("Analyzing prompt for chart spec and generating code...")
		spec := chartspec.Default()
		if req.ChartSpec != nil {
			spec = *req.ChartSpec
		}
		if dataset == "" {
			dataset = "(none)"
		}
		rendered, err := prompts.Render(prompts.KeyChart, map[string]string{
			"Request": req.Message,
			"Spec":    spec.Describe(),
			"Dataset": dataset,
		})
		if err != nil {
			return "", s.fail(fmt.Sprintf("Failed to build chart prompt: %v", err)), false
		}
		prompt = rendered
	} else {
		s.content("No template matched. Starting LLM code generation (this may take 10-30 seconds)...")
	}

	source, err := runStage(ctx, s, "Code generation", func(ctx context.Context, _ rendering.ProgressFunc) (string, error) {
		return s.o.producer.Generate(ctx, prompt)
	})
	if err != nil {
		if s.canceled() {
			return "", s.finishCanceled(), false
		}
		return "", s.fail(err.Error()), false
	}
	if strings.TrimSpace(source) == "" {
		return "", s.fail("No code was generated for preview."), false
	}
	s.content("Code generated. Creating preview...")
	return source, registry.Snapshot{}, true
}

// syntaxGate validates source and, when allowed, repairs it within the syntax
// budget.
func (s *session) syntaxGate(ctx context.Context, source string, allowFix bool) (string, registry.Snapshot, bool) {
	if s.canceled() {
		return "", s.finishCanceled(), false
	}
	v := s.o.validator.Validate(source)
	if v.OK {
		return source, registry.Snapshot{}, true
	}
	if !allowFix {
		return "", s.fail("Code validation failed: " + v.Error), false
	}

	budget := s.o.opts.SyntaxFixAttempts
	res, err := runStage(ctx, s, "Auto-fix", func(ctx context.Context, progress rendering.ProgressFunc) (repair.Result, error) {
		loop := repair.NewLoop(s.o.producer, s.o.validator, s.logger)
		loop.OnAttempt = func(a repair.Attempt) {
			metrics.FixAttemptsTotal.WithLabelValues("syntax").Inc()
			progress(fmt.Sprintf("Syntax issue detected (%s). Attempting auto-fix %d/%d...", a.Error, a.Index+1, budget))
		}
		return loop.Run(ctx, repair.Request{Source: source, MaxAttempts: budget})
	})
	if s.canceled() {
		return "", s.finishCanceled(), false
	}
	if err != nil {
		return "", s.fail(err.Error()), false
	}
	if !res.OK {
		return "", s.fail("Code validation failed: " + res.LastError), false
	}
	s.contentf("Code fixed after %d attempt(s). Proceeding to preview...", res.Attempts)
	return res.Source, registry.Snapshot{}, true
}

// previewLoop previews source, and on a fixable runtime failure repairs it and
// previews again until it succeeds or the runtime budget is spent.
func (s *session) previewLoop(ctx context.Context, source string, req GenerateRequest) ([]rendering.Image, string, registry.Snapshot, bool) {
	budget := s.o.opts.RuntimeFixAttempts
	used := 0
	for {
		if s.canceled() {
			return nil, "", s.finishCanceled(), false
		}
		s.setState(registry.StatePreviewing, "Generating preview...")
		s.content("Generating preview...")

		current, iteration := source, req.Iteration+used
		preview, err := runStage(ctx, s, "Preview", func(ctx context.Context, progress rendering.ProgressFunc) (*rendering.PreviewResult, error) {
			return s.o.renderer.Preview(ctx, rendering.PreviewRequest{
				RunID:       s.runID,
				Source:      current,
				AspectRatio: req.AspectRatio,
				OwnerID:     req.OwnerID,
				Project:     req.Project,
				Iteration:   iteration,
			}, progress)
		})
		if err == nil {
			ev := s.event(EventContent, "Preview generated.")
			ev.Images = preview.Images
			ev.ElapsedSeconds = int(preview.Elapsed.Seconds())
			s.emit(ev)
			return preview.Images, source, registry.Snapshot{}, true
		}

		var infra *rendering.InfrastructureError
		var canceled *rendering.CanceledError
		switch {
		case errors.As(err, &canceled) || s.canceled():
			return nil, "", s.finishCanceled(), false
		case errors.As(err, &infra):
			return nil, "", s.fail(err.Error()), false
		}

		class := diagnose.Classify(err.Error())
		metrics.RuntimeErrorsTotal.WithLabelValues(string(class.Category)).Inc()
		s.logger.Info("preview failed", "category", class.Category, "allow_fix", class.AllowFix, "attempts_used", used)

		notice := s.event(EventContent, class.String())
		notice.AllowLLMFix = &class.AllowFix
		s.emit(notice)

		if !class.AllowFix || !req.AllowFix || used >= budget {
			ev := s.event(EventError, class.String())
			ev.AllowLLMFix = &class.AllowFix
			return nil, "", s.failEvent(ev), false
		}

		errText := err.Error()
		offset := used
		res, ferr := runStage(ctx, s, "Auto-fix", func(ctx context.Context, progress rendering.ProgressFunc) (repair.Result, error) {
			loop := repair.NewLoop(s.o.producer, s.o.validator, s.logger)
			loop.OnAttempt = func(a repair.Attempt) {
				metrics.FixAttemptsTotal.WithLabelValues("runtime").Inc()
				progress(fmt.Sprintf("Preview error detected. Attempting auto-fix %d/%d...", offset+a.Index+1, budget))
			}
			return loop.Run(ctx, repair.Request{Source: current, Error: errText, MaxAttempts: budget - offset, Force: true})
		})
		used += res.Attempts
		if s.canceled() {
			return nil, "", s.finishCanceled(), false
		}
		if ferr != nil {
			return nil, "", s.fail(ferr.Error()), false
		}
		if !res.OK {
			ev := s.event(EventError, fmt.Sprintf("%s Auto-fix failed after %d attempt(s): %s", class.String(), res.Attempts, res.LastError))
			ev.AllowLLMFix = &class.AllowFix
			return nil, "", s.failEvent(ev), false
		}
		source = res.Source
	}
}

// stageFailed turns a render or export error into the terminal outcome.
func (s *session) stageFailed(err error) registry.Snapshot {
	var canceled *rendering.CanceledError
	if errors.As(err, &canceled) || s.canceled() {
		return s.finishCanceled()
	}
	return s.fail(err.Error())
}
