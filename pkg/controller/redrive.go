package controller

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// ScheduleRedrive periodically moves dead-lettered status updates back into
// their queues. The returned scheduler is already running; stop it on
// shutdown.
func (s *Service) ScheduleRedrive(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := c.AddFunc(spec, s.redriveAll)
	if err != nil {
		return nil, fmt.Errorf("invalid redrive schedule %q: %w", spec, err)
	}

	c.Start()

	s.logger.Info("dead-letter redrive scheduled", "schedule", spec)

	return c, nil
}

func (s *Service) redriveAll() {
	n, err := s.Redrive("")
	if err != nil {
		s.logger.Error("redrive failed", "error", err)

		return
	}

	if n > 0 {
		s.logger.Info("redrove dead-lettered updates", "count", n)
	}
}
