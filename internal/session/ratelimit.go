package session

import (
	"context"

	"golang.org/x/time/rate"
)

// SendLimiter is a token bucket shared by every handler's outbound sends so a
// burst of commands cannot flood the account.
type SendLimiter struct {
	lim *rate.Limiter
}

// NewSendLimiter allows burst sends at once and ratePerMinute sustained.
// A non-positive rate disables limiting.
func NewSendLimiter(burst int, ratePerMinute float64) *SendLimiter {
	if ratePerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 5
	}
	return &SendLimiter{lim: rate.NewLimiter(rate.Limit(ratePerMinute/60.0), burst)}
}

// Wait blocks until a send token is available or ctx is done. A nil limiter
// never blocks.
func (l *SendLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}
