package repair

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonathan/animation-agent/internal/diagnose"
	"github.com/jonathan/animation-agent/internal/validation"
)

// Producer repairs source given the error it failed with.
type Producer interface {
	Fix(ctx context.Context, source, errText string) (string, error)
}

// Validator checks candidate source.
type Validator interface {
	Validate(source string) validation.Result
}

// Attempt records the error a repair attempt started from.
type Attempt struct {
	Index int    `json:"attempt_index"`
	Error string `json:"error_text"`
}

// Request is one repair session.
type Request struct {
	Source string
	// Error is an error observed outside static validation, such as a
	// preview traceback.
	Error       string
	MaxAttempts int
	// Force repairs on Error even when diagnose.IsFixable does not recognise
	// it. Callers set it after classifying the error themselves.
	Force bool
}

// Result is the outcome of a repair session. Source is empty unless OK.
type Result struct {
	Source    string    `json:"-"`
	OK        bool      `json:"ok"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	History   []Attempt `json:"history"`
}

// Loop asks a Producer for repairs until the Validator accepts the result or
// the attempt budget runs out.
type Loop struct {
	producer  Producer
	validator Validator
	logger    *slog.Logger

	// OnAttempt, when set, is called before each producer call.
	OnAttempt func(Attempt)
}

// NewLoop creates a Loop. A nil validator uses validation.New(nil).
func NewLoop(producer Producer, validator Validator, logger *slog.Logger) *Loop {
	if validator == nil {
		validator = validation.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{producer: producer, validator: validator, logger: logger.With("component", "repair")}
}

// Run executes the session. Valid source with no fixable error returns at
// once with zero attempts and without calling the producer. A producer
// failure consumes an attempt like a failed validation does. The returned
// error is non-nil only when ctx ends the session early.
func (l *Loop) Run(ctx context.Context, req Request) (Result, error) {
	history := []Attempt{}

	current := req.Source
	currentErr := ""
	if v := l.validator.Validate(req.Source); !v.OK {
		currentErr = v.Error
	} else if req.Error != "" && (req.Force || diagnose.IsFixable(req.Error)) {
		currentErr = req.Error
	} else {
		return Result{Source: req.Source, OK: true, History: history}, nil
	}

	attempts := 0
	for attempts < req.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempts, LastError: currentErr, History: history},
				&Error{Message: "interrupted", Cause: err}
		}

		attempt := Attempt{Index: attempts, Error: currentErr}
		history = append(history, attempt)
		if l.OnAttempt != nil {
			l.OnAttempt(attempt)
		}

		fixed, err := l.producer.Fix(ctx, current, currentErr)
		attempts++
		if err != nil {
			l.logger.Warn("auto-fix generation failed", "attempt", attempts, "error", err)
			currentErr = fmt.Sprintf("Auto-fix generation failed: %v", err)
			continue
		}

		v := l.validator.Validate(fixed)
		if v.OK {
			l.logger.Info("auto-fix succeeded", "attempts", attempts)
			return Result{Source: fixed, OK: true, Attempts: attempts, History: history}, nil
		}
		l.logger.Info("auto-fix attempt still invalid", "attempt", attempts, "error", v.Error)
		current = fixed
		currentErr = v.Error
	}

	history = append(history, Attempt{Index: attempts, Error: currentErr})
	return Result{Attempts: attempts, LastError: currentErr, History: history}, nil
}
