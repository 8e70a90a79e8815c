package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/domain"
)

// PollFunc performs one poll. Returning done stops the loop.
type PollFunc func(ctx context.Context) (done bool, err error)

// Poller runs a PollFunc on an interval. The next poll is scheduled only
// after the previous one returns, so slow responses never overlap. Failures
// back off exponentially up to MaxBackoff; a success resets the interval.
type Poller struct {
	name       string
	interval   time.Duration
	maxBackoff time.Duration
	fn         PollFunc
	nudge      chan struct{}
	logger     *zap.Logger
}

// NewPoller creates a new Poller.
func NewPoller(name string, interval, maxBackoff time.Duration, fn PollFunc, logger *zap.Logger) *Poller {
	if maxBackoff < interval {
		maxBackoff = interval
	}
	return &Poller{
		name:       name,
		interval:   interval,
		maxBackoff: maxBackoff,
		fn:         fn,
		nudge:      make(chan struct{}, 1),
		logger:     logger.With(zap.String("poller", name)),
	}
}

// Nudge requests an immediate poll. Nudges that arrive while a poll is
// pending or running collapse into one.
func (p *Poller) Nudge() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled, the PollFunc reports done, or it returns
// a permanent error. The first poll runs immediately.
func (p *Poller) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.interval
	b.MaxInterval = p.maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-p.nudge:
			timer.Stop()
		}

		done, err := p.fn(ctx)
		if ctx.Err() != nil {
			return nil
		}

		next := p.interval
		if err != nil {
			if isPermanent(err) {
				p.logger.Warn("polling stopped", zap.Error(err))
				return err
			}
			failures++
			next = b.NextBackOff()
			p.logger.Warn("poll failed",
				zap.Error(err),
				zap.Int("failures", failures),
				zap.Duration("retry_in", next),
			)
		} else {
			if failures > 0 {
				p.logger.Info("poll recovered", zap.Int("failures", failures))
			}
			failures = 0
			b.Reset()
		}

		if done {
			return nil
		}
		timer.Reset(next)
	}
}

// isPermanent reports errors that retrying cannot fix.
func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.As(err, &perm)
}
