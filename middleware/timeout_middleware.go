package middleware

import (
	"context"
	"time"

	"erp-rpc/message"
)

// TimeOutMiddleware bounds the whole request with a deadline. The transport
// sees it through ctx and reports a timeout error when it expires.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}
