// Package server is a small in-process ERP speaking the same XML-RPC
// dialect as the real one. It backs the client tests and `erpctl serve`.
//
// Request processing pipeline:
//
//	POST /xmlrpc/2/{common|object}
//	  → protocol.UnmarshalCall → Middleware Chain → businessHandler
//	      common: authenticate, login, version
//	      object: execute_kw → credentials check → model → method handler
//	  → methodResponse, or a fault:
//	      3  Access Denied (bad db, uid or password on execute_kw)
//	      1  anything else, including a method that returned None
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"erp-rpc/message"
	"erp-rpc/middleware"
	"erp-rpc/protocol"
	"erp-rpc/registry"
	"erp-rpc/rpcerr"
)

// Fault codes used by the server.
const (
	FaultGeneric      = 1
	FaultAccessDenied = 3
)

// NoneFaultString is what the server answers when a method returns None.
const NoneFaultString = "Traceback (most recent call last):\n" +
	"  File \"xmlrpc/client.py\", line 510, in __dump\n" +
	"TypeError: cannot marshal None unless allow_none is enabled"

// DefaultVersion is the server_version reported by version().
const DefaultVersion = "17.0"

const maxRequestSize = 16 << 20

type user struct {
	uid      int64
	password string
}

type uidCtxKey struct{}

// UID returns the authenticated user id of an execute_kw call.
func UID(ctx context.Context) int64 {
	uid, _ := ctx.Value(uidCtxKey{}).(int64)
	return uid
}

// Server is the fake ERP. Models, users and middlewares must be set up
// before the first request is served.
type Server struct {
	database string
	version  string

	mu      sync.RWMutex
	users   map[string]user // login → user
	nextUID int64
	models  map[string]*model

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	handlerOnce sync.Once

	commonCalls atomic.Int64
	objectCalls atomic.Int64

	httpMu       sync.Mutex
	closed       bool
	httpServer   *http.Server
	registry     registry.Registry
	advertiseURL string
	cancelReg    context.CancelFunc
}

// NewServer makes a server hosting one database. User ids start at 2,
// uid 1 being the superuser on a real ERP.
func NewServer(database string) *Server {
	return &Server{
		database: database,
		version:  DefaultVersion,
		users:    make(map[string]user),
		nextUID:  1,
		models:   make(map[string]*model),
	}
}

// Database returns the name of the hosted database.
func (svr *Server) Database() string { return svr.database }

// AddUser creates a user and returns its uid. Adding an existing login
// changes the password and keeps the uid.
func (svr *Server) AddUser(login, password string) int64 {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if u, ok := svr.users[login]; ok {
		u.password = password
		svr.users[login] = u
		return u.uid
	}
	svr.nextUID++
	svr.users[login] = user{uid: svr.nextUID, password: password}
	return svr.nextUID
}

// Register exposes the handler methods of rcvr as model name.
func (svr *Server) Register(name string, rcvr any) error {
	m, err := newModel(name, rcvr)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if old, ok := svr.models[name]; ok {
		for k, h := range m.method {
			old.method[k] = h
		}
		return nil
	}
	svr.models[name] = m
	return nil
}

// RegisterFunc adds a single method to a model, creating the model if needed.
func (svr *Server) RegisterFunc(modelName, method string, h Handler) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	m, ok := svr.models[modelName]
	if !ok {
		m = &model{name: modelName, method: make(map[string]Handler)}
		svr.models[modelName] = m
	}
	m.method[method] = h
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Calls returns how many requests reached a service endpoint.
func (svr *Server) Calls(service message.Service) int64 {
	switch service {
	case message.ServiceCommon:
		return svr.commonCalls.Load()
	case message.ServiceObject:
		return svr.objectCalls.Load()
	default:
		return 0
	}
}

// ServeHTTP routes XML-RPC endpoints; GET / answers with an HTML page like
// the web client's login screen.
func (svr *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/xmlrpc/2/"):
		service := message.Service(strings.TrimPrefix(r.URL.Path, "/xmlrpc/2/"))
		if service != message.ServiceCommon && service != message.ServiceObject {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		svr.serveRPC(w, r, service)
	case r.URL.Path == "/" || r.URL.Path == "/web/login":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><title>Login | ERP</title></head>"+
			"<body><form action=\"/web/login\">database %s</form></body></html>\n", svr.database)
	default:
		http.NotFound(w, r)
	}
}

func (svr *Server) serveRPC(w http.ResponseWriter, r *http.Request, service message.Service) {
	if service == message.ServiceCommon {
		svr.commonCalls.Add(1)
	} else {
		svr.objectCalls.Add(1)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		http.Error(w, "can't read request", http.StatusBadRequest)
		return
	}
	method, params, err := protocol.UnmarshalCall(body)
	if err != nil {
		writeFault(w, FaultGeneric, fmt.Sprintf("invalid request: %v", err))
		return
	}

	req := &message.Request{Service: service, Method: method, Params: params, Label: requestLabel(service, method, params)}
	svr.handlerOnce.Do(func() {
		svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)
	})
	writeResponse(w, svr.handler(r.Context(), req))
}

// requestLabel names a request for logs without touching credentials.
func requestLabel(service message.Service, method string, params []message.Value) string {
	if service == message.ServiceObject && method == protocol.MethodExecuteKw && len(params) >= 5 {
		m, ok1 := params[3].(message.String)
		fn, ok2 := params[4].(message.String)
		if ok1 && ok2 {
			return message.Call{Model: string(m), Method: string(fn)}.Label()
		}
	}
	return string(service) + "." + method
}

func writeResponse(w http.ResponseWriter, resp *message.Response) {
	if resp.Err != nil {
		var fault *rpcerr.Fault
		if errors.As(resp.Err, &fault) {
			writeFault(w, fault.Code, fault.String)
			return
		}
		writeFault(w, FaultGeneric, resp.Err.Error())
		return
	}
	if resp.Value == nil || resp.Value.Kind() == message.KindNil {
		writeFault(w, FaultGeneric, NoneFaultString)
		return
	}
	data, err := protocol.MarshalResponse(resp.Value)
	if err != nil {
		writeFault(w, FaultGeneric, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(data)
}

func writeFault(w http.ResponseWriter, code int64, msg string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(protocol.MarshalFault(code, msg))
}

// businessHandler dispatches a decoded call. It is wrapped by the
// middleware chain and has the HandlerFunc signature.
func (svr *Server) businessHandler(ctx context.Context, req *message.Request) *message.Response {
	switch {
	case req.Service == message.ServiceCommon && (req.Method == protocol.MethodAuthenticate || req.Method == "login"):
		return svr.authenticate(req.Params)
	case req.Service == message.ServiceCommon && req.Method == protocol.MethodVersion:
		return &message.Response{Value: svr.versionInfo()}
	case req.Service == message.ServiceObject && req.Method == protocol.MethodExecuteKw:
		return svr.executeKw(ctx, req.Params)
	default:
		return faultResponse(FaultGeneric, "method %q is not supported on %s", req.Method, req.Service)
	}
}

// authenticate answers the uid, or false for unknown credentials.
func (svr *Server) authenticate(params []message.Value) *message.Response {
	if len(params) < 3 {
		return faultResponse(FaultGeneric, "authenticate expects db, login and password")
	}
	db, _ := params[0].(message.String)
	login, _ := params[1].(message.String)
	password, _ := params[2].(message.String)

	if uid, ok := svr.checkLogin(string(db), string(login), string(password)); ok {
		return &message.Response{Value: message.Int(uid)}
	}
	return &message.Response{Value: message.Bool(false)}
}

func (svr *Server) checkLogin(db, login, password string) (int64, bool) {
	if db != svr.database {
		return 0, false
	}
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	u, ok := svr.users[login]
	if !ok || u.password != password {
		return 0, false
	}
	return u.uid, true
}

func (svr *Server) checkUID(db string, uid int64, password string) bool {
	if db != svr.database {
		return false
	}
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	for _, u := range svr.users {
		if u.uid == uid {
			return u.password == password
		}
	}
	return false
}

func (svr *Server) versionInfo() *message.Struct {
	major, minor := 0, 0
	_, _ = fmt.Sscanf(svr.version, "%d.%d", &major, &minor)
	return message.NewStruct(
		message.Member{Name: "server_version", Value: message.String(svr.version)},
		message.Member{Name: "server_version_info", Value: message.Array{
			message.Int(major), message.Int(minor), message.Int(0), message.String("final"), message.Int(0), message.String(""),
		}},
		message.Member{Name: "server_serie", Value: message.String(svr.version)},
		message.Member{Name: "protocol_version", Value: message.Int(1)},
	)
}

// executeKw checks credentials and runs params[3].params[4](*args, **kwargs).
func (svr *Server) executeKw(ctx context.Context, params []message.Value) *message.Response {
	if len(params) < 6 {
		return faultResponse(FaultGeneric, "execute_kw expects at least 6 params, got %d", len(params))
	}
	db, _ := params[0].(message.String)
	uid, _ := params[1].(message.Int)
	password, _ := params[2].(message.String)
	if !svr.checkUID(string(db), int64(uid), string(password)) {
		return faultResponse(FaultAccessDenied, "Access Denied")
	}

	modelName, _ := params[3].(message.String)
	methodName, _ := params[4].(message.String)
	args, ok := params[5].(message.Array)
	if !ok {
		return faultResponse(FaultGeneric, "execute_kw args must be an array, got %s", kindOf(params[5]))
	}
	kwargs := &message.Struct{}
	if len(params) > 6 {
		if kwargs, ok = params[6].(*message.Struct); !ok || kwargs == nil {
			return faultResponse(FaultGeneric, "execute_kw kwargs must be a struct, got %s", kindOf(params[6]))
		}
	}

	svr.mu.RLock()
	m, ok := svr.models[string(modelName)]
	var h Handler
	if ok {
		h = m.method[string(methodName)]
	}
	svr.mu.RUnlock()
	if !ok {
		return faultResponse(FaultGeneric, "Object %s doesn't exist", modelName)
	}
	if h == nil {
		return faultResponse(FaultGeneric, "AttributeError: type object '%s' has no attribute '%s'", modelName, methodName)
	}

	v, err := h(context.WithValue(ctx, uidCtxKey{}, int64(uid)), args, kwargs)
	return &message.Response{Value: v, Err: err}
}

func kindOf(v message.Value) string {
	if v == nil {
		return "nothing"
	}
	return v.Kind().String()
}

func faultResponse(code int64, format string, args ...any) *message.Response {
	return &message.Response{Err: &rpcerr.Fault{Code: code, String: fmt.Sprintf(format, args...)}}
}

// ListenAndServe listens on address and serves until Shutdown.
// See Serve for advertiseURL and reg.
func (svr *Server) ListenAndServe(address, advertiseURL string, reg registry.Registry) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}
	return svr.Serve(ln, advertiseURL, reg)
}

// Serve accepts connections on ln until Shutdown. With a registry the
// server is registered under "erp" as advertiseURL, the routable base URL
// clients should use (ln's ":8069" is not one).
func (svr *Server) Serve(ln net.Listener, advertiseURL string, reg registry.Registry) error {
	hs := &http.Server{Handler: svr, ReadHeaderTimeout: 5 * time.Second}

	svr.httpMu.Lock()
	if svr.closed {
		svr.httpMu.Unlock()
		return errors.Wrap(ln.Close(), "failed to close listener")
	}
	svr.httpServer = hs
	if reg != nil {
		ctx, cancel := context.WithCancel(context.Background())
		inst := registry.Instance{URL: advertiseURL, Weight: 1, Version: svr.version, Database: svr.database}
		if err := reg.Register(ctx, "erp", inst, 10); err != nil {
			cancel()
			svr.httpMu.Unlock()
			_ = ln.Close()
			return errors.Wrap(err, "failed to register server")
		}
		svr.registry, svr.advertiseURL, svr.cancelReg = reg, advertiseURL, cancel
	}
	svr.httpMu.Unlock()

	log.Printf("[INFO] serving database %s on %s", svr.database, ln.Addr())
	if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve failed")
	}
	return nil
}

// Shutdown deregisters the server first, so clients stop picking it, then
// waits for in-flight requests until ctx is done.
func (svr *Server) Shutdown(ctx context.Context) error {
	svr.httpMu.Lock()
	defer svr.httpMu.Unlock()
	svr.closed = true

	if svr.registry != nil {
		if err := svr.registry.Deregister(ctx, "erp", svr.advertiseURL); err != nil {
			log.Printf("[WARN] failed to deregister %s: %v", svr.advertiseURL, err)
		}
		svr.cancelReg()
		svr.registry = nil
	}
	if svr.httpServer == nil {
		return nil
	}
	return errors.Wrap(svr.httpServer.Shutdown(ctx), "shutdown failed")
}
