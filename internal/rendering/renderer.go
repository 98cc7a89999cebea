package rendering

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonathan/animation-agent/internal/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// Settings configures a Renderer. Zero durations disable the matching bound.
type Settings struct {
	ArtifactsDir string
	// WorkDir holds per-run scratch directories. Relative paths are resolved
	// under ArtifactsDir.
	WorkDir   string
	ManimBin  string
	FFmpegBin string

	PreviewTimeout time.Duration
	RenderTimeout  time.Duration
	ExportTimeout  time.Duration
	QuietPeriod    time.Duration
	CancelGrace    time.Duration
	// PollInterval is how often in-flight subprocesses are checked for
	// progress and cancellation. Defaults to one second.
	PollInterval time.Duration

	PreviewQuality      string
	PreviewSampleEvery  int
	PreviewMaxFrames    int
	PreviewLimitActions int

	MaxConcurrentRenders int
}

// Image is one sampled preview frame as published to clients.
type Image struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt"`
}

// Video is a published video reference.
type Video struct {
	ID  int    `json:"id"`
	ETA int    `json:"eta"`
	URL string `json:"url"`
}

// ProgressFunc receives human-readable progress lines. It may be called from
// more than one goroutine, never concurrently.
type ProgressFunc func(content string)

// Renderer runs manim and ffmpeg as tracked subprocesses of a run.
type Renderer struct {
	registry    *registry.Registry
	settings    Settings
	renderSlots *semaphore.Weighted
	logger      *slog.Logger
	tracer      trace.Tracer
}

// New creates a Renderer.
func New(reg *registry.Registry, settings Settings, logger *slog.Logger) *Renderer {
	if settings.ArtifactsDir == "" {
		settings.ArtifactsDir = "artifacts"
	}
	if settings.WorkDir == "" {
		settings.WorkDir = "work"
	}
	if !filepath.IsAbs(settings.WorkDir) {
		settings.WorkDir = filepath.Join(settings.ArtifactsDir, settings.WorkDir)
	}
	if settings.ManimBin == "" {
		settings.ManimBin = "manim"
	}
	if settings.FFmpegBin == "" {
		settings.FFmpegBin = "ffmpeg"
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = time.Second
	}
	if settings.PreviewSampleEvery <= 0 || settings.PreviewMaxFrames <= 0 {
		stride, maxFrames := SamplingDefaults(PresetPreview)
		if settings.PreviewSampleEvery <= 0 {
			settings.PreviewSampleEvery = stride
		}
		if settings.PreviewMaxFrames <= 0 {
			settings.PreviewMaxFrames = maxFrames
		}
	}
	if settings.PreviewLimitActions <= 0 {
		settings.PreviewLimitActions = 8
	}
	if settings.MaxConcurrentRenders <= 0 {
		settings.MaxConcurrentRenders = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		registry:    reg,
		settings:    settings,
		renderSlots: semaphore.NewWeighted(int64(settings.MaxConcurrentRenders)),
		logger:      logger.With("component", "renderer"),
		tracer:      otel.Tracer("animation-agent/rendering"),
	}
}

// Settings returns the effective settings after defaults were applied.
func (r *Renderer) Settings() Settings {
	return r.settings
}

// newWorkDir creates a fresh scratch directory and registers it as a temp
// path of the run.
func (r *Renderer) newWorkDir(runID, prefix string) (string, error) {
	dir := filepath.Join(r.settings.WorkDir, prefix+shortID(32))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &InfrastructureError{Message: "failed to create work directory", Cause: err}
	}
	r.registry.RegisterTempPath(runID, dir)
	return dir, nil
}

// publicDir creates and returns a directory under ArtifactsDir.
func (r *Renderer) publicDir(parts ...string) (string, error) {
	dir := filepath.Join(append([]string{r.settings.ArtifactsDir}, parts...)...)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &InfrastructureError{Message: "failed to create artifacts directory", Cause: err}
	}
	return dir, nil
}

// moveFile renames src to dst, copying when they live on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return err
	}
	return os.Remove(src)
}
