package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const sweepLockKey = "bikeshare:sweep:lock"

// Locker elects one instance to run a periodic job.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Sweeper periodically rejects requests that timed out or lost their dates.
type Sweeper struct {
	machine  *BookingMachine
	interval time.Duration
	locker   Locker
	logger   *logrus.Logger
}

// NewSweeper builds a sweeper. locker may be nil when a single instance runs.
func NewSweeper(machine *BookingMachine, interval time.Duration, locker Locker, logger *logrus.Logger) *Sweeper {
	return &Sweeper{machine: machine, interval: interval, locker: locker, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("booking sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("booking sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps if this instance wins the lock and reports whether it ran.
func (s *Sweeper) RunOnce(ctx context.Context) bool {
	if s.locker != nil {
		// The lock expires just before the next tick.
		ttl := s.interval - time.Second
		if ttl < time.Second {
			ttl = s.interval
		}
		ok, err := s.locker.TryLock(ctx, sweepLockKey, ttl)
		if err != nil {
			s.logger.WithError(err).Warn("sweep lock unavailable")
			return false
		}
		if !ok {
			return false
		}
	}

	n, err := s.machine.SweepExpiredRequests(ctx)
	if err != nil {
		s.logger.WithError(err).Error("sweep failed")
	}
	if n > 0 {
		s.logger.WithField("rejected", n).Info("swept stale booking requests")
	}
	return true
}
