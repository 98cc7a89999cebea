package rendering

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/animation-agent/internal/diagnose"
	"github.com/jonathan/animation-agent/internal/metrics"
	"github.com/jonathan/animation-agent/internal/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// stderrKeep bounds how much stderr is retained for error messages.
const stderrKeep = 16 * 1024

// job is one tracked subprocess invocation.
type job struct {
	runID   string
	role    registry.Role
	command []string
	dir     string
	env     []string
	timeout time.Duration

	// label prefixes failure messages, e.g. "Manim preview".
	label string
	// timeoutLabel prefixes the timeout message when it differs from label.
	timeoutLabel string
	// canceled is the message used when the run is canceled mid-flight.
	canceled string

	// onLine receives each stderr line, split on \n or \r.
	onLine func(line string)
	// onTick runs every poll interval while the process is alive.
	onTick func(now time.Time)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append([]byte{}, t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// lookPath resolves bin or reports a missing tool.
func lookPath(bin, missing string) (string, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", &InfrastructureError{Message: missing, Cause: err}
	}
	return path, nil
}

// run starts j under the registry and waits for it, enforcing the timeout
// and watching for cancellation. stderr is drained line by line and its tail
// kept for the failure message.
func (r *Renderer) run(ctx context.Context, j job) error {
	ctx, span := r.tracer.Start(ctx, "rendering."+string(j.role),
		trace.WithAttributes(
			attribute.String("run.id", j.runID),
			attribute.String("process.command", filepath.Base(j.command[0])),
		))
	defer span.End()

	start := time.Now()
	err := r.runTracked(ctx, j)

	outcome := "ok"
	var (
		timeoutErr  *TimeoutError
		canceledErr *CanceledError
	)
	switch {
	case err == nil:
	case errors.As(err, &timeoutErr):
		outcome = "timeout"
	case errors.As(err, &canceledErr):
		outcome = "canceled"
	default:
		outcome = "error"
	}
	metrics.SubprocessDuration.WithLabelValues(string(j.role), outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		span.SetStatus(codes.Error, outcome)
		span.RecordError(err)
	}
	return err
}

func (r *Renderer) runTracked(ctx context.Context, j job) error {
	tail := &tailBuffer{max: stderrKeep}
	pr, pw := io.Pipe()

	h, err := r.registry.StartTrackedProcess(j.runID, j.role, registry.ProcessSpec{
		Command:   j.command,
		Dir:       j.dir,
		Env:       j.env,
		Stdout:    io.Discard,
		Stderr:    io.MultiWriter(pw, tail),
		WaitDelay: 2 * time.Second,
	})
	if err != nil {
		_ = pw.Close()
		if errors.Is(err, registry.ErrRunTerminal) {
			return &CanceledError{Message: j.canceled, Cause: err}
		}
		return &InfrastructureError{Message: fmt.Sprintf("%s could not start", j.label), Cause: err}
	}
	r.logger.Info("subprocess started", "run_id", j.runID, "role", j.role, "pid", h.PID)

	var g errgroup.Group
	g.Go(func() error {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		scanner.Split(scanLinesOrCR)
		for scanner.Scan() {
			if j.onLine != nil {
				j.onLine(scanner.Text())
			}
		}
		// Keep draining so the writer never blocks on an oversized line.
		_, _ = io.Copy(io.Discard, pr)
		return nil
	})
	g.Go(func() error {
		<-h.Done()
		return pw.Close()
	})

	var timeoutC <-chan time.Time
	if j.timeout > 0 {
		timer := time.NewTimer(j.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	ticker := time.NewTicker(r.settings.PollInterval)
	defer ticker.Stop()

	stop := func() {
		r.registry.TerminateProcess(j.runID, j.role, r.settings.CancelGrace)
		_ = g.Wait()
	}

wait:
	for {
		select {
		case <-h.Done():
			break wait
		case <-timeoutC:
			stop()
			label := j.timeoutLabel
			if label == "" {
				label = j.label
			}
			return &TimeoutError{
				Message: fmt.Sprintf("%s timed out after %ds", label, int(j.timeout.Seconds())),
				Cause:   context.DeadlineExceeded,
			}
		case <-ctx.Done():
			stop()
			return &CanceledError{Message: j.canceled, Cause: ctx.Err()}
		case now := <-ticker.C:
			if r.registry.CancelRequested(j.runID) {
				stop()
				return &CanceledError{Message: j.canceled}
			}
			if j.onTick != nil {
				j.onTick(now)
			}
		}
	}
	_ = g.Wait()

	if r.registry.CancelRequested(j.runID) {
		return &CanceledError{Message: j.canceled}
	}
	if waitErr := h.Wait(); waitErr != nil {
		code := h.ExitCode()
		stderr := tail.String()
		msg := fmt.Sprintf("%s failed (exit %d).", j.label, code)
		if strings.TrimSpace(stderr) != "" {
			msg += "\n" + diagnose.Tail(stderr, diagnose.TailChars)
		}
		r.logger.Warn("subprocess failed", "run_id", j.runID, "role", j.role, "exit_code", code)
		return &ExecutionError{Message: msg, ExitCode: code, Stderr: stderr}
	}
	return nil
}

// scanLinesOrCR splits on \n, \r\n or a bare \r so progress bars that
// redraw in place still produce lines.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		} else if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// Need more data to tell \r from \r\n.
			return 0, nil, nil
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
