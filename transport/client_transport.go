// Package transport performs the HTTP side of an XML-RPC call against the
// ERP and turns every failure into an rpcerr error.
//
//	Request ──MarshalCall──► POST {base}/xmlrpc/2/{common|object}
//	                              │
//	     status != 200 ───────────┤──► TransportError{KindStatus, excerpt}
//	     empty / <html> / junk ───┤──► TransportError{…, DiagID}   (body kept in diag.Sink)
//	     <fault> ─────────────────┤──► rpcerr.Fault
//	     params/param/value ──────┴──► Response{Value}
//
// One compatibility rule lives here and nowhere else: an object call that
// fails with the server's "cannot marshal None" error is reported as a
// successful Bool(true), see IsMarshalNone.
package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"erp-rpc/diag"
	"erp-rpc/message"
	"erp-rpc/protocol"
	"erp-rpc/rpcerr"
)

// DefaultConnectTimeout is used when Options.ConnectTimeout is not set.
const DefaultConnectTimeout = 10 * time.Second

// Options configures a ClientTransport.
type Options struct {
	ConnectTimeout time.Duration
	Diagnostics    diag.Sink
	Logger         log.L
	HTTPClient     *http.Client // replaces the client built from ConnectTimeout
}

// ClientTransport sends XML-RPC requests to one ERP base URL. It holds no
// per-call state and is safe for concurrent use.
type ClientTransport struct {
	baseURL string
	client  *http.Client
	diag    diag.Sink
	log     log.L
}

// NewClientTransport makes a transport for baseURL (without trailing slash).
// The total request time is bounded by the ctx passed to Handle; the
// connect phase is bounded separately by Options.ConnectTimeout.
func NewClientTransport(baseURL string, opts Options) *ClientTransport {
	t := &ClientTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  opts.HTTPClient,
		diag:    opts.Diagnostics,
		log:     opts.Logger,
	}
	if t.diag == nil {
		t.diag = diag.NopSink{}
	}
	if t.log == nil {
		t.log = log.Default()
	}
	if t.client == nil {
		connectTimeout := opts.ConnectTimeout
		if connectTimeout <= 0 {
			connectTimeout = DefaultConnectTimeout
		}
		dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
		t.client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
			// redirects are reported as status errors, never followed
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	return t
}

// URL returns the endpoint URL of a service.
func (t *ClientTransport) URL(s message.Service) string {
	return t.baseURL + "/xmlrpc/2/" + string(s)
}

// BaseURL returns the ERP base URL.
func (t *ClientTransport) BaseURL() string {
	return t.baseURL
}

// Handle sends req and decodes the reply. It is the terminal handler of the
// client's middleware chain.
func (t *ClientTransport) Handle(ctx context.Context, req *message.Request) *message.Response {
	v, err := t.roundTrip(ctx, req)
	if err != nil {
		if req.Service == message.ServiceObject && IsMarshalNone(err) {
			t.log.Logf("[WARN] %s: server failed to marshal a None result, reporting success", req.Label)
			return &message.Response{Value: message.Bool(true), Recovered: true}
		}
		return &message.Response{Err: err}
	}
	return &message.Response{Value: v}
}

func (t *ClientTransport) roundTrip(ctx context.Context, req *message.Request) (message.Value, error) {
	url := t.URL(req.Service)
	body, err := protocol.MarshalCall(req.Method, req.Params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s", req.Label)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &rpcerr.TransportError{Kind: rpcerr.KindConnection, URL: url, Msg: "failed to make request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "text/xml")
	httpReq.Header.Set("Accept", "text/xml")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classify(url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(url, err)
	}

	if resp.StatusCode != http.StatusOK {
		te := &rpcerr.TransportError{Kind: rpcerr.KindStatus, URL: url, StatusCode: resp.StatusCode, Excerpt: rpcerr.Excerpt(respBody)}
		te.DiagID = t.keep(te, respBody)
		return nil, te
	}

	v, err := protocol.UnmarshalResponse(respBody)
	if err != nil {
		var te *rpcerr.TransportError
		if errors.As(err, &te) {
			te.URL = url
			te.DiagID = t.keep(te, respBody)
		}
		return nil, err
	}
	return v, nil
}

// Probe issues a plain GET to the base URL and returns the HTTP status.
// Any status is a successful probe; only a failed exchange is an error.
func (t *ClientTransport) Probe(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL, http.NoBody)
	if err != nil {
		return 0, &rpcerr.TransportError{Kind: rpcerr.KindConnection, URL: t.baseURL, Msg: "failed to make request", Err: err}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, classify(t.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, nil
}

// Close drops idle keep-alive connections.
func (t *ClientTransport) Close() {
	t.client.CloseIdleConnections()
}

// keep stores a body that could not be used and returns its diag id.
func (t *ClientTransport) keep(te *rpcerr.TransportError, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	id, err := t.diag.Save(diag.Record{Kind: te.Kind.String(), URL: te.URL, StatusCode: te.StatusCode, Body: body})
	if err != nil {
		t.log.Logf("[WARN] failed to store %d bytes of response from %s: %v", len(body), te.URL, err)
		return ""
	}
	if id != "" {
		t.log.Logf("[INFO] stored %d bytes of %q response from %s as %s", len(body), te.Kind, te.URL, id)
	}
	return id
}

// classify maps a failed HTTP exchange to a TransportError, separating
// timeouts from other connection failures.
func classify(url string, err error) *rpcerr.TransportError {
	te := &rpcerr.TransportError{Kind: rpcerr.KindConnection, URL: url, Msg: "request failed", Err: err}

	var opErr *net.OpError
	var netErr net.Error
	switch {
	case errors.As(err, &opErr) && opErr.Op == "dial" && opErr.Timeout():
		te.Kind, te.Msg = rpcerr.KindTimeout, "connect timed out"
	case errors.Is(err, context.DeadlineExceeded):
		te.Kind, te.Msg = rpcerr.KindTimeout, "request timed out"
	case errors.As(err, &netErr) && netErr.Timeout():
		te.Kind, te.Msg = rpcerr.KindTimeout, "request timed out"
	case errors.Is(err, context.Canceled):
		te.Msg = "request cancelled"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		te.Msg = "connect failed"
	}
	return te
}
