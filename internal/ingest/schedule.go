package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedule re-runs the tree scan on a cron expression so freshly copied
// files show up without a manual trigger.
type Schedule struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSchedule builds a schedule from a standard 5-field cron expression. An
// empty expression disables scheduling and returns nil.
func NewSchedule(spec string, scanner *Scanner, logger *slog.Logger) (*Schedule, error) {
	if spec == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := scanner.ScanAll(context.Background()); err != nil {
			logger.Error("scheduled scan failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parsing scan schedule %q: %w", spec, err)
	}

	return &Schedule{cron: c, logger: logger}, nil
}

// Start begins running the schedule in its own goroutine.
func (s *Schedule) Start() {
	s.cron.Start()
}

// Stop halts the schedule, waiting for a running scan to finish.
func (s *Schedule) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
