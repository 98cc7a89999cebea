package pipeline

import (
	"context"

	"github.com/jonathan/animation-agent/internal/registry"
	"github.com/jonathan/animation-agent/internal/rendering"
)

// ExportRequest merges previously rendered videos into one.
type ExportRequest struct {
	OwnerID   string
	SessionID string
	Title     string
	// Videos are absolute paths, file:// URLs or /static/ URLs.
	Videos []string
}

// Export runs the merge pipeline. Like Generate it always ends with exactly
// one RunCompleted event.
func (o *Orchestrator) Export(ctx context.Context, req ExportRequest, emit Emitter) registry.Snapshot {
	ctx, s, done := o.start(ctx, pipelineExport, req.OwnerID, req.SessionID, "Export requested", emit)
	defer done()

	s.setState(registry.StateExporting, "Exporting videos...")
	if len(req.Videos) == 0 {
		return s.fail("No videos provided for export/merge.")
	}

	paths := make([]string, 0, len(req.Videos))
	for i, ref := range req.Videos {
		s.contentf("Resolving input (%d/%d)...", i+1, len(req.Videos))
		path, err := o.renderer.ResolveVideo(ref)
		if err != nil {
			return s.fail(err.Error())
		}
		paths = append(paths, path)
	}
	if len(paths) < 2 {
		return s.fail("At least two videos are required for export/merge.")
	}

	if s.canceled() {
		return s.finishCanceled()
	}
	result, err := runStage(ctx, s, "Export", func(ctx context.Context, progress rendering.ProgressFunc) (*rendering.ExportResult, error) {
		return o.renderer.Export(ctx, rendering.ExportRequest{
			RunID:   s.runID,
			OwnerID: req.OwnerID,
			Title:   req.Title,
			Paths:   paths,
		}, progress)
	})
	if err != nil {
		return s.stageFailed(err)
	}

	return s.complete("Export completed.", []rendering.Video{result.Video})
}
