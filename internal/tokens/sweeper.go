package tokens

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"SignalCast/pkg/logger"
)

// Sweeper runs the token refresh sweep on a cron schedule.
type Sweeper struct {
	manager  *Manager
	logger   *logger.Logger
	schedule string
	c        *cron.Cron
}

func NewSweeper(manager *Manager, lgr *logger.Logger, schedule string) *Sweeper {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Sweeper{
		manager:  manager,
		logger:   lgr,
		schedule: schedule,
		c:        cron.New(),
	}
}

// Start registers the sweep and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.c.AddFunc(s.schedule, func() {
		report, err := s.manager.RefreshExpiringTokens(ctx)
		if err != nil {
			s.logger.Error("scheduled token sweep failed", logger.Error(err))
			return
		}
		s.logger.Info("scheduled token sweep done",
			logger.Int("checked", report.Checked),
			logger.Int("refreshed", report.Refreshed),
			logger.Int("failed", report.Failed))
	})
	if err != nil {
		return fmt.Errorf("tokens: invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.c.Start()
	s.logger.Info("token sweeper started", logger.String("schedule", s.schedule))
	return nil
}

// Stop halts the scheduler; a sweep already running is left to finish.
func (s *Sweeper) Stop() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
}
