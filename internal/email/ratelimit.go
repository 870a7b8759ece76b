package email

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited holds sends to the provider's allowed rate.
type RateLimited struct {
	next    Transport
	limiter *rate.Limiter
}

func NewRateLimited(next Transport, perSecond int) *RateLimited {
	if perSecond <= 0 {
		return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

func (r *RateLimited) Send(ctx context.Context, msg Message) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.Send(ctx, msg)
}
