package anchor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Interval between ticks while ticks succeed.
	Interval time.Duration
	// MaxBackoff caps the delay after consecutive failed ticks.
	MaxBackoff time.Duration
	Tick       func(ctx context.Context) error
	Logger     *slog.Logger
}

// ApplyDefaults fills unset optional fields.
func (c *SchedulerConfig) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * c.Interval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler delivers Tick triggers on an interval. After a failed tick the
// next one is delayed with exponential backoff; a successful tick resets
// the delay to Interval.
type Scheduler struct {
	cfg     SchedulerConfig
	backoff *backoff.ExponentialBackOff
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Tick == nil {
		return nil, errors.New("scheduler tick function is required")
	}
	cfg.ApplyDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Interval
	b.MaxInterval = cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	return &Scheduler{cfg: cfg, backoff: b}, nil
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		timer.Reset(s.next(ctx))
	}
}

// next runs one tick and returns the delay before the following one.
func (s *Scheduler) next(ctx context.Context) time.Duration {
	if err := s.cfg.Tick(ctx); err != nil {
		delay := s.backoff.NextBackOff()
		if delay == backoff.Stop {
			delay = s.cfg.MaxBackoff
		}
		s.cfg.Logger.Warn("anchor tick failed", "error", err, "retryIn", delay)
		return delay
	}
	s.backoff.Reset()
	return s.cfg.Interval
}
