package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper is the part of the rate limiter the scheduler drives.
type Sweeper interface {
	Sweep() int
}

// Purger drops blacklist entries that can no longer matter.
type Purger interface {
	PurgeExpired(now time.Time) int
}

type Scheduler struct {
	cron     *cron.Cron
	limiter  Sweeper
	purger   Purger
	interval time.Duration
	log      zerolog.Logger
}

// NewScheduler wires the periodic maintenance jobs. purger may be nil when
// revocations live in Redis, which expires them itself.
func NewScheduler(limiter Sweeper, purger Purger, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		limiter:  limiter,
		purger:   purger,
		interval: interval,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	schedule := fmt.Sprintf("@every %s", s.interval)

	if s.limiter != nil {
		if _, err := s.cron.AddFunc(schedule, s.sweepRateLimits); err != nil {
			return err
		}
	}
	if s.purger != nil {
		if _, err := s.cron.AddFunc(schedule, s.purgeBlacklist); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) sweepRateLimits() {
	if removed := s.limiter.Sweep(); removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("rate limit records swept")
	}
}

func (s *Scheduler) purgeBlacklist() {
	if removed := s.purger.PurgeExpired(time.Now()); removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("expired revocations purged")
	}
}
