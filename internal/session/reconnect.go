package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parley-ai/parley/pkg/realtime"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 5
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

// ReconnectPolicy bounds the automatic re-establishment of a dropped model
// channel. The zero value selects the defaults.
type ReconnectPolicy struct {
	// MaxRetries is the maximum number of reconnection attempts before giving up.
	// Defaults to 5 if zero.
	MaxRetries int

	// Backoff is the initial backoff duration between retries. Doubles each
	// attempt up to MaxBackoff. Defaults to 500ms if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 10s if zero.
	MaxBackoff time.Duration
}

// withDefaults returns the policy with zero fields replaced by defaults.
func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	return p
}

// reconnector re-establishes a dropped [realtime.Channel] with exponential
// backoff. onAttempt, when non-nil, is invoked once per attempt with "ok" or
// "error".
type reconnector struct {
	channel   realtime.Channel
	policy    ReconnectPolicy
	onAttempt func(status string)
}

// reconnect attempts to reopen the channel until it succeeds, the policy's
// retry budget is exhausted, or ctx is cancelled.
func (r *reconnector) reconnect(ctx context.Context) error {
	backoff := r.policy.Backoff

	for attempt := 1; attempt <= r.policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		slog.Info("attempting reconnection",
			"attempt", attempt,
			"max_retries", r.policy.MaxRetries,
			"backoff", backoff,
		)

		err := r.channel.Connect(ctx)
		if err == nil {
			if r.onAttempt != nil {
				r.onAttempt("ok")
			}
			slog.Info("reconnection successful", "attempt", attempt)
			return nil
		}

		if r.onAttempt != nil {
			r.onAttempt("error")
		}
		slog.Warn("reconnection attempt failed",
			"attempt", attempt,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > r.policy.MaxBackoff {
			backoff = r.policy.MaxBackoff
		}
	}

	slog.Error("reconnection failed after max retries", "max_retries", r.policy.MaxRetries)
	return fmt.Errorf("session: reconnect: gave up after %d attempts", r.policy.MaxRetries)
}
