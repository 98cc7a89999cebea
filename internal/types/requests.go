// Package types holds the request and response bodies of the HTTP API.
package types

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// GenerateRequest is the body of POST /runs/stream.
type GenerateRequest struct {
	Message     string          `json:"message" validate:"required_without_all=DatasetPath ChartSpec,max=20000"`
	SessionID   string          `json:"session_id,omitempty" validate:"omitempty,max=128"`
	DatasetPath string          `json:"dataset_path,omitempty" validate:"omitempty,max=1024"`
	ChartSpec   json.RawMessage `json:"chart_spec,omitempty"`
	AspectRatio string          `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=16:9 9:16 1:1"`
	Quality     string          `json:"quality,omitempty" validate:"omitempty,oneof=low medium high"`
	// AllowFix defaults to true when omitted.
	AllowFix *bool  `json:"allow_fix,omitempty"`
	Project  string `json:"project,omitempty" validate:"omitempty,max=64,excludesall=/\\"`
}

// Validate validates the GenerateRequest using the validator.
func (r *GenerateRequest) Validate() error {
	return validate.Struct(r)
}

// FixAllowed reports whether the auto-fix loops may run.
func (r *GenerateRequest) FixAllowed() bool {
	return r.AllowFix == nil || *r.AllowFix
}

// ExportRequest is the body of POST /exports/stream. An empty list is left
// to the export pipeline, which reports it on the stream.
type ExportRequest struct {
	Videos    []string `json:"videos" validate:"max=50,dive,required"`
	Title     string   `json:"title,omitempty" validate:"omitempty,max=200"`
	SessionID string   `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

// Validate validates the ExportRequest using the validator.
func (r *ExportRequest) Validate() error {
	return validate.Struct(r)
}

// CancelResponse acknowledges a cancel request.
type CancelResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunListResponse wraps GET /runs.
type RunListResponse struct {
	Runs  any       `json:"runs"`
	Count int       `json:"count"`
	AsOf  time.Time `json:"as_of"`
}
