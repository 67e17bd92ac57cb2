package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultPublishPolicy retries broker publishes with exponential backoff.
// Context cancellation is never retried.
func DefaultPublishPolicy(name string, log *zap.Logger) Policy {
	if log == nil {
		log = zap.NewNop()
	}
	return Policy{
		Name:     name,
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
		OnAttempt: func(i int, err error) {
			log.Warn("publish retry", zap.String("policy", name), zap.Int("attempt", i+1), zap.Error(err))
		},
		OnExhaust: func(err error) {
			if !errors.Is(err, context.Canceled) {
				log.Error("publish retries exhausted", zap.String("policy", name), zap.Error(err))
			}
		},
	}
}
