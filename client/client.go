// Package client talks to the ERP over XML-RPC.
//
//	Execute(model, method, args, kwargs)
//	  → Authenticate (cached uid, one network call per client)
//	  → protocol.ExecuteParams → middleware chain (logging, rate limit, timeout, extra)
//	  → transport.Handle → message.Value | *rpcerr.TransportError | *rpcerr.Fault
//
// A Client is safe for concurrent use. It never retries: faults and
// authentication errors go back to the caller unchanged, and an expired or
// revoked session is not renewed behind the caller's back.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"erp-rpc/config"
	"erp-rpc/diag"
	"erp-rpc/message"
	"erp-rpc/middleware"
	"erp-rpc/protocol"
	"erp-rpc/rpcerr"
	"erp-rpc/transport"
)

// Option customizes a Client.
type Option func(c *Client)

// WithLogger sets the logger, lgr.Default() otherwise.
func WithLogger(l log.L) Option {
	return func(c *Client) { c.log = l }
}

// WithMiddleware appends middlewares, innermost last, after the built-in ones.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.extra = append(c.extra, mws...) }
}

// WithDiagnostics sets where unusable response bodies are kept.
func WithDiagnostics(s diag.Sink) Option {
	return func(c *Client) { c.diag = s }
}

// WithHTTPClient replaces the HTTP client built from the config.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client is an ERP session. Connection settings are fixed at construction.
type Client struct {
	cfg        config.Config
	transport  *transport.ClientTransport
	handler    middleware.HandlerFunc
	log        log.L
	diag       diag.Sink
	httpClient *http.Client
	extra      []middleware.Middleware

	mu  sync.Mutex
	uid int64 // 0 until authenticated
}

// New makes a client for cfg. No network call is made.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	c := &Client{cfg: cfg, log: log.Default(), diag: diag.NopSink{}}
	for _, opt := range opts {
		opt(c)
	}

	c.transport = transport.NewClientTransport(cfg.URL, transport.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		Diagnostics:    c.diag,
		Logger:         c.log,
		HTTPClient:     c.httpClient,
	})

	mws := []middleware.Middleware{middleware.LoggingMiddleware(c.log)}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	mws = append(mws, middleware.TimeOutMiddleware(cfg.Timeout))
	mws = append(mws, c.extra...)
	c.handler = middleware.Chain(mws...)(c.transport.Handle)
	return c, nil
}

// Authenticate returns the session uid, logging in on first use. A falsy
// answer from the server is an *rpcerr.AuthError.
func (c *Client) Authenticate(ctx context.Context) (int64, error) {
	c.mu.Lock()
	uid := c.uid
	c.mu.Unlock()
	if uid != 0 {
		return uid, nil
	}

	// not holding the lock here: concurrent first calls may both log in,
	// which is harmless since authenticate is idempotent
	resp := c.handler(ctx, &message.Request{
		Service: message.ServiceCommon,
		Method:  protocol.MethodAuthenticate,
		Params:  protocol.AuthenticateParams(c.cfg.Database, c.cfg.Username, c.cfg.Password),
		Label:   "common.authenticate",
	})
	if resp.Err != nil {
		return 0, resp.Err
	}
	if !message.Truthy(resp.Value) {
		return 0, &rpcerr.AuthError{Username: c.cfg.Username, Database: c.cfg.Database}
	}
	id, ok := resp.Value.(message.Int)
	if !ok {
		return 0, &rpcerr.TransportError{
			Kind: rpcerr.KindMalformed,
			URL:  c.transport.URL(message.ServiceCommon),
			Msg:  fmt.Sprintf("authenticate returned %s instead of a user id", resp.Value.Kind()),
		}
	}

	c.mu.Lock()
	c.uid = int64(id)
	c.mu.Unlock()
	c.log.Logf("[INFO] authenticated %s on %s as uid %d", c.cfg.Username, c.cfg.Database, id)
	return int64(id), nil
}

// Execute calls model.method(*args, **kwargs) with execute_kw. nil args and
// kwargs are sent as an empty array and an empty struct.
//
// When the server fails to marshal a None result the call is reported as
// Bool(true): the method ran, but its real return value is lost.
func (c *Client) Execute(ctx context.Context, model, method string, args message.Array, kwargs *message.Struct) (message.Value, error) {
	uid, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	call := message.Call{Model: model, Method: method, Args: args, Kwargs: kwargs}
	resp := c.handler(ctx, &message.Request{
		Service: message.ServiceObject,
		Method:  protocol.MethodExecuteKw,
		Params:  protocol.ExecuteParams(c.cfg.Database, uid, c.cfg.Password, call),
		Label:   call.Label(),
	})
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Value, nil
}

// Call is Execute over plain Go values; see message.FromNative for the
// mapping. Note an empty slice or map is sent as an empty struct.
func (c *Client) Call(ctx context.Context, model, method string, args []any, kwargs map[string]any) (any, error) {
	arr := make(message.Array, 0, len(args))
	for i, a := range args {
		v, err := message.FromNative(a)
		if err != nil {
			return nil, errors.Wrapf(err, "arg %d of %s.%s", i, model, method)
		}
		arr = append(arr, v)
	}

	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kw := &message.Struct{}
	for _, k := range keys {
		v, err := message.FromNative(kwargs[k])
		if err != nil {
			return nil, errors.Wrapf(err, "kwarg %s of %s.%s", k, model, method)
		}
		kw.Set(k, v)
	}

	res, err := c.Execute(ctx, model, method, arr, kw)
	if err != nil {
		return nil, err
	}
	return message.ToNative(res), nil
}

// Version returns the server's version info. It needs no login.
func (c *Client) Version(ctx context.Context) (*message.Struct, error) {
	resp := c.handler(ctx, &message.Request{
		Service: message.ServiceCommon,
		Method:  protocol.MethodVersion,
		Label:   "common.version",
	})
	if resp.Err != nil {
		return nil, resp.Err
	}
	s, ok := resp.Value.(*message.Struct)
	if !ok {
		return nil, &rpcerr.TransportError{
			Kind: rpcerr.KindMalformed,
			URL:  c.transport.URL(message.ServiceCommon),
			Msg:  fmt.Sprintf("version returned %s instead of a struct", resp.Value.Kind()),
		}
	}
	return s, nil
}

// ConnectionStatus is the outcome of TestConnection.
type ConnectionStatus struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	Details ConnectionDetails `json:"details"`
}

// ConnectionDetails tells what was probed and what it answered.
type ConnectionDetails struct {
	URL        string `json:"url"`
	HTTPStatus int    `json:"http_status,omitempty"`
}

// TestConnection checks that the base URL answers a plain GET with a
// status below 400. No XML-RPC call is made and the session is untouched.
func (c *Client) TestConnection(ctx context.Context) ConnectionStatus {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	status, err := c.transport.Probe(ctx)
	res := ConnectionStatus{Details: ConnectionDetails{URL: c.cfg.URL, HTTPStatus: status}}
	switch {
	case err != nil:
		res.Error = err.Error()
	case status >= http.StatusBadRequest:
		res.Error = fmt.Sprintf("%s answered with status %d", c.cfg.URL, status)
	default:
		res.Success = true
		res.Message = fmt.Sprintf("%s is reachable, status %d", c.cfg.URL, status)
	}
	return res
}

// Info describes the client's connection without touching the network.
type Info struct {
	URL           string `json:"url"`
	Database      string `json:"database"`
	Username      string `json:"username"`
	Authenticated bool   `json:"authenticated"`
	SessionID     int64  `json:"session_id,omitempty"`
}

// ConnectionInfo reports settings and session state. The password is never included.
func (c *Client) ConnectionInfo() Info {
	c.mu.Lock()
	uid := c.uid
	c.mu.Unlock()
	return Info{
		URL:           c.cfg.URL,
		Database:      c.cfg.Database,
		Username:      c.cfg.Username,
		Authenticated: uid != 0,
		SessionID:     uid,
	}
}

// ResetSession drops the cached uid; the next call logs in again.
func (c *Client) ResetSession() {
	c.mu.Lock()
	c.uid = 0
	c.mu.Unlock()
}

// Close releases idle HTTP connections.
func (c *Client) Close() {
	c.transport.Close()
}
