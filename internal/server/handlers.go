package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jonathan/animation-agent/internal/chartspec"
	"github.com/jonathan/animation-agent/internal/pipeline"
	"github.com/jonathan/animation-agent/internal/registry"
	"github.com/jonathan/animation-agent/internal/server/middleware"
	"github.com/jonathan/animation-agent/internal/types"
)

const maxBodyBytes = 1 << 20

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &ErrValidation{Field: "body", Message: "request body is empty"}
		}
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}

// handleRunStream runs the generate pipeline and streams its events. The
// request context is the run's lifetime: a client disconnect cancels it.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if err := decode(w, r, &req); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		err = validationError(err)
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	var spec *chartspec.Spec
	if len(req.ChartSpec) > 0 && string(req.ChartSpec) != "null" {
		parsed, err := chartspec.Parse(req.ChartSpec)
		if err != nil {
			err = validationError(err)
			s.errorResponse(w, HTTPStatus(err), err.Error())
			return
		}
		spec = &parsed
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	owner := middleware.OwnerID(r)
	snap := s.orchestrator.Generate(r.Context(), pipeline.GenerateRequest{
		Message:     req.Message,
		OwnerID:     owner,
		SessionID:   req.SessionID,
		DatasetPath: req.DatasetPath,
		ChartSpec:   spec,
		AspectRatio: req.AspectRatio,
		Quality:     req.Quality,
		AllowFix:    req.FixAllowed(),
		Project:     req.Project,
	}, s.streamTo(sse))
	s.logger.Info("run stream closed", "run_id", snap.RunID, "state", snap.State, "owner_id", owner)
}

// handleExportStream runs the merge pipeline and streams its events.
func (s *Server) handleExportStream(w http.ResponseWriter, r *http.Request) {
	var req types.ExportRequest
	if err := decode(w, r, &req); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		err = validationError(err)
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	owner := middleware.OwnerID(r)
	snap := s.orchestrator.Export(r.Context(), pipeline.ExportRequest{
		OwnerID:   owner,
		SessionID: req.SessionID,
		Title:     req.Title,
		Videos:    req.Videos,
	}, s.streamTo(sse))
	s.logger.Info("export stream closed", "run_id", snap.RunID, "state", snap.State, "owner_id", owner)
}

// streamTo writes events to sse. Write failures mean the client is gone; the
// request context cancels the run, so they are only logged.
func (s *Server) streamTo(sse *SSEWriter) pipeline.Emitter {
	failed := false
	return func(ev pipeline.Event) {
		if failed {
			return
		}
		if err := sse.WriteRunEvent(ev); err != nil {
			failed = true
			s.logger.Debug("failed to write SSE event", "run_id", ev.RunID, "error", err)
		}
	}
}

// visibleRun returns the run if it belongs to the requester.
func (s *Server) visibleRun(r *http.Request, runID string) (registry.Snapshot, error) {
	snap, ok := s.orchestrator.Registry().Get(runID)
	if !ok {
		return registry.Snapshot{}, registry.ErrRunNotFound
	}
	if snap.OwnerID != middleware.OwnerID(r) {
		return registry.Snapshot{}, &ErrRunNotVisible{RunID: runID}
	}
	return snap, nil
}

// handleListRuns lists the requester's runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerID(r)
	runs := []registry.Snapshot{}
	for _, snap := range s.orchestrator.Registry().List() {
		if snap.OwnerID == owner {
			runs = append(runs, snap)
		}
	}
	s.jsonResponse(w, http.StatusOK, types.RunListResponse{Runs: runs, Count: len(runs), AsOf: time.Now().UTC()})
}

// handleGetRun returns the status of one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.visibleRun(r, r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, snap)
}

// handleCancelRun requests cancellation and returns before the run's process
// groups have exited. Canceling a finished run is acknowledged without effect.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := s.visibleRun(r, runID); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	go s.orchestrator.Cancel(runID, "user_request")
	s.jsonResponse(w, http.StatusAccepted, types.CancelResponse{RunID: runID, Status: "canceled"})
}

// handleDeleteRun purges a finished run from the registry.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := s.visibleRun(r, runID); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	if err := s.orchestrator.Registry().Purge(runID); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
