package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/coopquest/backend/internal/metrics"
)

// SweepLockKey is the Redis key instances contend for before sweeping.
const SweepLockKey = "coopquest:encounter_sweep"

// Expirer expires pending encounters past their time limit.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Locker grants a short-lived lock shared between instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// ExpirySweeper periodically expires stale encounters. A failed sweep is
// retried with exponential backoff, from the interval up to maxBackoff.
type ExpirySweeper struct {
	expirer    Expirer
	locker     Locker
	interval   time.Duration
	maxBackoff time.Duration
	lockTTL    time.Duration
	logger     *zap.Logger
}

// NewExpirySweeper creates a sweeper. locker may be nil for a single instance.
func NewExpirySweeper(expirer Expirer, locker Locker, interval, maxBackoff, lockTTL time.Duration, logger *zap.Logger) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBackoff < interval {
		maxBackoff = interval
	}
	if lockTTL <= 0 {
		lockTTL = interval
	}
	return &ExpirySweeper{
		expirer:    expirer,
		locker:     locker,
		interval:   interval,
		maxBackoff: maxBackoff,
		lockTTL:    lockTTL,
		logger:     logger,
	}
}

// Run sweeps every interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) {
	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	delay := s.interval
	failures := 0
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopping")
			return
		case <-timer.C:
		}

		if err := s.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			delay = Backoff(failures, s.interval, s.maxBackoff)
			s.logger.Error("expiry sweep failed", zap.Error(err), zap.Int("failures", failures), zap.Duration("retry_in", delay))
		} else {
			failures = 0
			delay = s.interval
		}
		timer.Reset(delay)
	}
}

// Sweep runs one pass. It returns nil without sweeping when another instance
// holds the lock.
func (s *ExpirySweeper) Sweep(ctx context.Context) error {
	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, SweepLockKey, s.lockTTL)
		if err != nil {
			metrics.SweepFailures.Inc()
			return err
		}
		if !ok {
			s.logger.Debug("expiry sweep skipped, lock held elsewhere")
			return nil
		}
		defer release()
	}

	defer metrics.ObserveSweep(time.Now())
	n, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		metrics.SweepFailures.Inc()
		return err
	}
	if n > 0 {
		s.logger.Debug("expiry sweep done", zap.Int("expired", n))
	}
	return nil
}

// Backoff returns the delay after the given number of consecutive failures:
// base, 2*base, 4*base, ... capped at max.
func Backoff(failures int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
