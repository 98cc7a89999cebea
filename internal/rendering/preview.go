package rendering

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jonathan/animation-agent/internal/registry"
)

// PreviewRequest describes one preview pass over generated source.
type PreviewRequest struct {
	RunID       string
	Source      string
	AspectRatio string
	OwnerID     string
	Project     string
	Iteration   int
}

// PreviewResult is a successful preview.
type PreviewResult struct {
	Token   string
	Dir     string
	Images  []Image
	Elapsed time.Duration
}

// Preview executes the source through the PreviewGenScene wrapper, samples
// the PNG frames manim writes and publishes them under previews/<token>.
// progress receives "Preview progress" lines while frames accumulate.
func (r *Renderer) Preview(ctx context.Context, req PreviewRequest, progress ProgressFunc) (*PreviewResult, error) {
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

	module := BuildSceneModule(req.Source, PreviewFrameConfig(req.AspectRatio, PresetPreview), true)
	scenePath, err := writeSceneFile(workDir, module)
	if err != nil {
		return nil, err
	}

	lastCount := 0
	err = r.run(ctx, job{
		runID: req.RunID,
		role:  registry.RolePreview,
		command: []string{
			manim, scenePath, PreviewSceneClass,
			"--format=png", QualityFlag(r.settings.PreviewQuality),
			"--media_dir", workDir,
			"--custom_folders",
			"--disable_caching",
		},
		dir:      workDir,
		env:      []string{LimitActionsEnv + "=" + strconv.Itoa(r.settings.PreviewLimitActions)},
		timeout:  r.settings.PreviewTimeout,
		label:    "Manim preview",
		canceled: "Preview canceled by user.",
		onTick: func(time.Time) {
			if progress == nil {
				return
			}
			frames, _ := collectFiles(workDir, ".png")
			if n := len(frames); n > lastCount {
				lastCount = n
				progress(fmt.Sprintf("Preview progress: %d frame(s) written...", n))
			}
		},
	})
	if err != nil {
		return nil, err
	}

	frames, err := collectFiles(workDir, ".png")
	if err != nil || len(frames) == 0 {
		return nil, &OutputError{Message: "No preview frames were generated by Manim."}
	}
	sampled := SampleFrames(frames, r.settings.PreviewSampleEvery, r.settings.PreviewMaxFrames)

	token := fmt.Sprintf("preview-%s-%s-%d-%s",
		slug(req.OwnerID, "anonymous"), slug(req.Project, "project"), req.Iteration, shortID(6))
	dest, err := r.publicDir("previews", token)
	if err != nil {
		return nil, err
	}

	images := make([]Image, 0, len(sampled))
	for i, src := range sampled {
		name := filepath.Base(src)
		if err := moveFile(src, filepath.Join(dest, name)); err != nil {
			r.logger.Warn("failed to publish preview frame", "run_id", req.RunID, "frame", name, "error", err)
			continue
		}
		images = append(images, Image{
			URL:           fmt.Sprintf("/static/previews/%s/%s", token, name),
			RevisedPrompt: fmt.Sprintf("Preview frame %d", i+1),
		})
	}
	if len(images) == 0 {
		return nil, &OutputError{Message: "No preview frames were generated by Manim."}
	}
	r.registry.RegisterArtifact(req.RunID, dest)

	elapsed := time.Since(start)
	r.logger.Info("preview generated",
		"run_id", req.RunID,
		"frames_total", len(frames),
		"frames_sampled", len(images),
		"elapsed_ms", elapsed.Milliseconds())
	return &PreviewResult{Token: token, Dir: dest, Images: images, Elapsed: elapsed}, nil
}
