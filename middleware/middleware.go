// Package middleware wraps XML-RPC requests on their way to a handler.
//
// The same chain shape serves the client (terminal handler is the HTTP
// transport) and the fake ERP server (terminal handler is the dispatcher).
package middleware

import (
	"context"

	"erp-rpc/message"
)

// HandlerFunc handles one request. Failures travel in Response.Err.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one is the outermost:
// Chain(A, B)(h) runs A → B → h → B → A.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
