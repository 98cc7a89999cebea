package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically purges finished runs older than the retention window.
type Janitor struct {
	cron      *cron.Cron
	registry  *Registry
	retention time.Duration
	logger    *slog.Logger
}

// NewJanitor schedules purges on a cron spec such as "@every 15m".
func NewJanitor(reg *Registry, schedule string, retention time.Duration, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		cron:      cron.New(),
		registry:  reg,
		retention: retention,
		logger:    logger.With("component", "janitor"),
	}
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("janitor started", "retention", j.retention.String())
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}

// Sweep runs one purge pass.
func (j *Janitor) Sweep() {
	if n := j.registry.PurgeOlderThan(j.retention); n > 0 {
		j.logger.Info("purged finished runs", "count", n)
	}
}
