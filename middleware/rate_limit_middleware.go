package middleware

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"erp-rpc/message"
)

// RateLimitMiddleware throttles outgoing requests with a token bucket.
// Callers wait for a token; only a cancelled or expired ctx fails the call.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if err := limiter.Wait(ctx); err != nil {
				return &message.Response{Err: errors.Wrapf(err, "rate limit wait for %s", req.Label)}
			}
			return next(ctx, req)
		}
	}
}
