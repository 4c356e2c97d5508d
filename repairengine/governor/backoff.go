package governor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jeeves-cluster-organization/repairkernel/repairengine/config"
)

// newRetryBackOff builds the exponential curve for one run.
// BackOff implementations are stateful; always build a fresh instance.
func newRetryBackOff(cfg *config.GovernorConfig) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(cfg.RetryBaseIntervalMS) * time.Millisecond
	bo.MaxInterval = time.Duration(cfg.RetryMaxIntervalMS) * time.Millisecond
	bo.MaxElapsedTime = 0 // the attempt budget bounds the loop, not wall clock
	bo.Reset()
	return bo
}

// retryDelay scales the next backoff interval by the temperature for the
// upcoming attempt, capped at the configured maximum.
func retryDelay(bo *backoff.ExponentialBackOff, policy config.TemperaturePolicy, nextIndex int, maxInterval time.Duration) time.Duration {
	next := bo.NextBackOff()
	if next == backoff.Stop {
		next = bo.MaxInterval
	}
	scaled := time.Duration(float64(next) * policy.Scale(nextIndex))
	if maxInterval > 0 && scaled > maxInterval {
		scaled = maxInterval
	}
	if scaled < 0 {
		scaled = 0
	}
	return scaled
}

// waitRetry sleeps for the delay or returns the context error as soon as
// the run is cancelled.
func waitRetry(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
