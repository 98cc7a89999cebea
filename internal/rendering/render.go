package rendering

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/jonathan/animation-agent/internal/registry"
)

// RenderRequest describes a final render.
type RenderRequest struct {
	RunID       string
	Source      string
	AspectRatio string
	Quality     string
	OwnerID     string
	Project     string
	Iteration   int
}

// RenderResult is a rendered and published video.
type RenderResult struct {
	Path    string
	Video   Video
	Elapsed time.Duration
}

var (
	animationRe = regexp.MustCompile(`Animation\s+(\d+):`)
	percentRe   = regexp.MustCompile(`(\d+)%`)
)

// heartbeatGap is the minimum spacing of quiet-period notices.
const heartbeatGap = 2 * time.Second

// renderProgress turns manim stderr into "Animation N: X%" lines and emits a
// "(working)" notice when the output goes quiet.
type renderProgress struct {
	mu        sync.Mutex
	emit      ProgressFunc
	quiet     time.Duration
	animation int
	percent   int
	lastLine  time.Time
	lastBeat  time.Time
}

func newRenderProgress(emit ProgressFunc, quiet time.Duration, now time.Time) *renderProgress {
	if emit == nil {
		emit = func(string) {}
	}
	return &renderProgress{emit: emit, quiet: quiet, animation: -1, percent: -1, lastLine: now, lastBeat: now}
}

// Line consumes one stderr line.
func (p *renderProgress) Line(line string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastLine = now

	if m := animationRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n != p.animation {
			p.animation = n
			p.percent = 0
			p.emit(fmt.Sprintf("Animation %d: 0%%", n))
		}
	}
	if m := percentRe.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.Atoi(m[1]); err == nil && pct != p.percent {
			p.percent = pct
			p.emit(fmt.Sprintf("Animation %d: %d%%", p.animation, pct))
		}
	}
}

// Tick emits a quiet-period notice when nothing was read for longer than the
// quiet period.
func (p *renderProgress) Tick(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quiet <= 0 || now.Sub(p.lastLine) <= p.quiet || now.Sub(p.lastBeat) <= heartbeatGap {
		return
	}
	p.lastBeat = now
	if p.animation >= 0 && p.percent >= 0 {
		p.emit(fmt.Sprintf("Animation %d: %d%% (working)", p.animation, p.percent))
		return
	}
	p.emit("Rendering...")
}

// Render produces the final MP4, moves it to videos/ and registers it as an
// artifact of the run. Concurrent renders are bounded by
// MaxConcurrentRenders; waiting for a slot honours ctx.
func (r *Renderer) Render(ctx context.Context, req RenderRequest, progress ProgressFunc) (*RenderResult, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if !r.renderSlots.TryAcquire(1) {
		progress("Waiting for a free render slot...")
		if err := r.renderSlots.Acquire(ctx, 1); err != nil {
			return nil, &CanceledError{Message: "Render canceled by user.", Cause: err}
		}
	}
	defer r.renderSlots.Release(1)

	start := time.Now()
	manim, err := lookPath(r.settings.ManimBin, "Manim CLI not found in PATH. Ensure manim is installed and available.")
	if err != nil {
		return nil, err
	}

	workDir, err := r.newWorkDir(req.RunID, "")
	if err != nil {
		return nil, err
	}
	defer registry.RemovePathBestEffort(r.logger, workDir)

	scenePath, err := writeSceneFile(workDir, BuildSceneModule(req.Source, VideoFrameConfig(req.AspectRatio), false))
	if err != nil {
		return nil, err
	}

	stem := fmt.Sprintf("video-%s-%s-%d-%s",
		slug(req.OwnerID, "anonymous"), slug(req.Project, "project"), req.Iteration, shortID(6))
	name := stem + ".mp4"

	progress("Starting Manim render...")
	tracker := newRenderProgress(progress, r.settings.QuietPeriod, time.Now())
	err = r.run(ctx, job{
		runID: req.RunID,
		role:  registry.RoleRender,
		command: []string{
			manim, scenePath, SceneClass,
			"--format=mp4", QualityFlag(req.Quality),
			"--media_dir", workDir,
			"--custom_folders",
			"--output_file", stem,
			"--disable_caching",
		},
		dir:      workDir,
		timeout:  r.settings.RenderTimeout,
		label:    "Manim render",
		canceled: "Render canceled by user.",
		onLine:   func(line string) { tracker.Line(line, time.Now()) },
		onTick:   tracker.Tick,
	})
	if err != nil {
		return nil, err
	}

	found := findRenderedMP4(workDir, name)
	if found == "" {
		return nil, &OutputError{Message: "Rendered video file not found."}
	}
	videosDir, err := r.publicDir("videos")
	if err != nil {
		return nil, err
	}
	final := filepath.Join(videosDir, name)
	if err := moveFile(found, final); err != nil {
		return nil, &InfrastructureError{Message: "failed to publish rendered video", Cause: err}
	}
	r.registry.RegisterArtifact(req.RunID, final)

	elapsed := time.Since(start)
	r.logger.Info("render completed", "run_id", req.RunID, "video", name, "elapsed_ms", elapsed.Milliseconds())
	return &RenderResult{
		Path:    final,
		Video:   Video{ID: 1, ETA: 0, URL: "/static/videos/" + name},
		Elapsed: elapsed,
	}, nil
}

// findRenderedMP4 prefers a file named preferred and otherwise returns the
// first .mp4 found under root.
func findRenderedMP4(root, preferred string) string {
	files, err := collectFiles(root, ".mp4")
	if err != nil || len(files) == 0 {
		return ""
	}
	for _, f := range files {
		if filepath.Base(f) == preferred {
			return f
		}
	}
	if _, err := os.Stat(files[0]); err != nil {
		return ""
	}
	return files[0]
}
