package middleware

import (
	"context"
	"time"

	log "github.com/go-pkgz/lgr"

	"erp-rpc/message"
)

// LoggingMiddleware logs each request's label and duration. Params are
// never logged since they carry the password.
func LoggingMiddleware(l log.L) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)
			switch {
			case resp.Err != nil:
				l.Logf("[WARN] %s %s (%s) failed after %s: %v", req.Service, req.Method, req.Label, duration, resp.Err)
			case resp.Recovered:
				l.Logf("[WARN] %s %s (%s) took %s, result replaced with true", req.Service, req.Method, req.Label, duration)
			default:
				l.Logf("[DEBUG] %s %s (%s) took %s", req.Service, req.Method, req.Label, duration)
			}
			return resp
		}
	}
}
