package rendering

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/animation-agent/internal/registry"
)

// ExportRequest merges already-resolved local videos into one file.
type ExportRequest struct {
	RunID   string
	OwnerID string
	Title   string
	Paths   []string
}

// ExportResult is a merged and published video.
type ExportResult struct {
	Path    string
	Video   Video
	Elapsed time.Duration
}

// ResolveVideo maps a video reference to a local file. It accepts
// /static/... URLs under the artifacts directory, file:// URLs and absolute
// paths.
func (r *Renderer) ResolveVideo(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if rel, ok := strings.CutPrefix(ref, "/static/"); ok {
		clean := filepath.Clean("/" + rel)
		path := filepath.Join(r.settings.ArtifactsDir, clean)
		if !isFile(path) {
			return "", &OutputError{Message: "File not found: " + path}
		}
		return path, nil
	}

	u, err := url.Parse(ref)
	if err == nil && u.Scheme == "file" {
		if !isFile(u.Path) {
			return "", &OutputError{Message: "File not found: " + u.Path}
		}
		return u.Path, nil
	}
	if err == nil && u.Scheme == "" && filepath.IsAbs(ref) {
		if !isFile(ref) {
			return "", &OutputError{Message: "File not found: " + ref}
		}
		return ref, nil
	}
	return "", &OutputError{Message: "Unsupported video URL: " + ref}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Export concatenates the videos with ffmpeg's concat demuxer and publishes
// the result under exports/.
func (r *Renderer) Export(ctx context.Context, req ExportRequest, progress ProgressFunc) (*ExportResult, error) {
	if progress == nil {
		progress = func(string) {}
	}
	start := time.Now()
	ffmpeg, err := lookPath(r.settings.FFmpegBin, "ffmpeg not found in PATH. Please install ffmpeg in the runtime environment.")
	if err != nil {
		return nil, err
	}

	workDir, err := r.newWorkDir(req.RunID, "export-")
	if err != nil {
		return nil, err
	}
	defer registry.RemovePathBestEffort(r.logger, workDir)

	listPath := filepath.Join(workDir, "list.txt")
	if err := os.WriteFile(listPath, []byte(concatList(req.Paths)), 0644); err != nil {
		return nil, &InfrastructureError{Message: "failed to write concat list", Cause: err}
	}

	exportsDir, err := r.publicDir("exports")
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("export-%s-%s-%s.mp4", slug(req.OwnerID, "anonymous"), slug(req.Title, "export"), shortID(8))
	out, err := filepath.Abs(filepath.Join(exportsDir, name))
	if err != nil {
		return nil, &InfrastructureError{Message: "failed to resolve export path", Cause: err}
	}

	progress("Merging videos...")
	err = r.run(ctx, job{
		runID:        req.RunID,
		role:         registry.RoleExport,
		command:      []string{ffmpeg, "-y", "-f", "concat", "-safe", "0", "-i", "list.txt", "-c", "copy", out},
		dir:          workDir,
		timeout:      r.settings.ExportTimeout,
		label:        "ffmpeg merge",
		timeoutLabel: "Export/merge",
		canceled:     "Export canceled by user.",
	})
	if err != nil {
		return nil, err
	}
	if !isFile(out) {
		return nil, &OutputError{Message: "Exported video file not found."}
	}
	r.registry.RegisterArtifact(req.RunID, out)

	elapsed := time.Since(start)
	r.logger.Info("export completed", "run_id", req.RunID, "inputs", len(req.Paths), "video", name)
	return &ExportResult{
		Path:    out,
		Video:   Video{ID: 1, ETA: 0, URL: "/static/exports/" + name},
		Elapsed: elapsed,
	}, nil
}

// concatList renders the concat demuxer input. Single quotes inside paths
// are closed, escaped and reopened.
func concatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	return b.String()
}
