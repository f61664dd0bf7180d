package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"erp-rpc/client"
	"erp-rpc/config"
	"erp-rpc/diag"
	"erp-rpc/loadbalance"
	"erp-rpc/message"
	"erp-rpc/middleware"
	"erp-rpc/registry"
	"erp-rpc/server"
)

// commonOptionsCommander extends flags.Commander with SetCommon.
// All commands implement it.
type commonOptionsCommander interface {
	SetCommon(commonOpts CommonOpts)
	Execute(args []string) error
}

// CommonOpts is set from main, shared across all commands
type CommonOpts struct {
	Ctx       context.Context  `no-flag:"true"`
	Cfg       config.Config    `no-flag:"true"`
	Discovery config.Discovery `no-flag:"true"`
	Out       io.Writer        `no-flag:"true"`
}

// SetCommon satisfies commonOptionsCommander
func (c *CommonOpts) SetCommon(commonOpts CommonOpts) {
	*c = commonOpts
	if c.Ctx == nil {
		c.Ctx = context.Background()
	}
}

// newClient makes a client for the configured URL, or for an instance
// picked from etcd when discovery is enabled. The returned func releases
// everything the client holds.
func (c *CommonOpts) newClient() (*client.Client, func(), error) {
	var opts []client.Option
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if c.Cfg.DiagPath != "" {
		sink, err := diag.NewBoltSink(c.Cfg.DiagPath, c.Cfg.DiagMaxSize)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = sink.Close() })
		opts = append(opts, client.WithDiagnostics(sink))
	}

	if !c.Discovery.Enabled() {
		cl, err := client.New(c.Cfg, opts...)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		return cl, func() { cl.Close(); closeAll() }, nil
	}

	reg, err := registry.NewEtcdRegistry(c.Discovery.Etcd)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, func() { _ = reg.Close() })
	bal, err := loadbalance.New(c.Discovery.Balancer, c.Cfg.Database)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	cl, err := client.NewFromRegistry(c.Ctx, c.Cfg, reg, c.Discovery.Service, bal, opts...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	log.Printf("[INFO] using %s from %s", cl.ConnectionInfo().URL, c.Discovery.Service)
	return cl, func() { cl.Close(); closeAll() }, nil
}

func (c *CommonOpts) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to format result")
	}
	_, err = fmt.Fprintln(c.Out, string(data))
	return err
}

// ProbeCommand checks the base URL with a plain GET
type ProbeCommand struct {
	CommonOpts
}

// Execute runs the probe and fails if the server is not reachable
func (cmd *ProbeCommand) Execute(_ []string) error {
	cl, done, err := cmd.newClient()
	if err != nil {
		return err
	}
	defer done()

	st := cl.TestConnection(cmd.Ctx)
	if err := cmd.printJSON(st); err != nil {
		return err
	}
	if !st.Success {
		return errors.New(st.Error)
	}
	return nil
}

// AuthCommand logs in and prints the session
type AuthCommand struct {
	CommonOpts
}

// Execute authenticates
func (cmd *AuthCommand) Execute(_ []string) error {
	cl, done, err := cmd.newClient()
	if err != nil {
		return err
	}
	defer done()

	if _, err := cl.Authenticate(cmd.Ctx); err != nil {
		return err
	}
	return cmd.printJSON(cl.ConnectionInfo())
}

// VersionCommand prints the server version info
type VersionCommand struct {
	CommonOpts
}

// Execute calls version on the common endpoint
func (cmd *VersionCommand) Execute(_ []string) error {
	cl, done, err := cmd.newClient()
	if err != nil {
		return err
	}
	defer done()

	v, err := cl.Version(cmd.Ctx)
	if err != nil {
		return err
	}
	return cmd.printJSON(message.ToNative(v))
}

// CallCommand runs execute_kw, args and kwargs given as JSON
type CallCommand struct {
	Model  string `short:"m" long:"model" required:"true" description:"model name, like res.partner"`
	Method string `short:"f" long:"method" required:"true" description:"method name, like search_read"`
	Args   string `short:"a" long:"args" default:"[]" description:"positional args, JSON array"`
	Kwargs string `short:"k" long:"kwargs" default:"{}" description:"keyword args, JSON object"`
	CommonOpts
}

// Execute decodes args, calls the method and prints the result as JSON
func (cmd *CallCommand) Execute(_ []string) error {
	var args []any
	if err := decodeJSON(cmd.Args, &args); err != nil {
		return errors.Wrap(err, "bad --args")
	}
	var kwargs map[string]any
	if err := decodeJSON(cmd.Kwargs, &kwargs); err != nil {
		return errors.Wrap(err, "bad --kwargs")
	}
	for i := range args {
		args[i] = fromJSON(args[i])
	}
	for k := range kwargs {
		kwargs[k] = fromJSON(kwargs[k])
	}

	cl, done, err := cmd.newClient()
	if err != nil {
		return err
	}
	defer done()

	res, err := cl.Call(cmd.Ctx, cmd.Model, cmd.Method, args, kwargs)
	if err != nil {
		return err
	}
	return cmd.printJSON(res)
}

func decodeJSON(s string, v any) error {
	d := json.NewDecoder(strings.NewReader(s))
	d.UseNumber()
	return d.Decode(v)
}

// fromJSON turns json.Number into int64 or float64, so integers stay
// integers on the wire
func fromJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = fromJSON(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = fromJSON(t[k])
		}
		return t
	default:
		return v
	}
}

// DiagCommand lists stored response bodies or prints one of them
type DiagCommand struct {
	ID    string `long:"id" description:"print the body with this id"`
	Limit int    `long:"limit" default:"20" description:"max records to list"`
	CommonOpts
}

type diagEntry struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Time       time.Time `json:"time"`
	Size       int       `json:"size"`
}

// Execute reads the diag store at --erp.diag-path
func (cmd *DiagCommand) Execute(_ []string) error {
	if cmd.Cfg.DiagPath == "" {
		return errors.New("diag path is not set")
	}
	sink, err := diag.NewBoltSink(cmd.Cfg.DiagPath, 0)
	if err != nil {
		return err
	}
	defer sink.Close()

	if cmd.ID != "" {
		rec, err := sink.Load(cmd.ID)
		if err != nil {
			return err
		}
		_, err = cmd.Out.Write(rec.Body)
		return err
	}

	recs, err := sink.List(cmd.Limit)
	if err != nil {
		return err
	}
	entries := make([]diagEntry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, diagEntry{ID: r.ID, Kind: r.Kind, URL: r.URL, StatusCode: r.StatusCode, Time: r.Time, Size: len(r.Body)})
	}
	return cmd.printJSON(entries)
}

// RegisterCommand registers an ERP instance in etcd and keeps the
// registration alive until interrupted
type RegisterCommand struct {
	Instance string `long:"instance" description:"base url to register, --erp.url if not set"`
	Weight   int    `long:"weight" default:"1" description:"balancing weight"`
	TTL      int64  `long:"ttl" default:"30" description:"registration ttl, seconds"`
	CommonOpts
}

// Execute checks the instance answers version, then registers it
func (cmd *RegisterCommand) Execute(_ []string) error {
	if !cmd.Discovery.Enabled() {
		return errors.New("no etcd endpoints, set --discovery.etcd")
	}
	cfg := cmd.Cfg
	if cmd.Instance != "" {
		cfg.URL = cmd.Instance
	}
	cl, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer cl.Close()
	ver, err := cl.Version(cmd.Ctx)
	if err != nil {
		return errors.Wrapf(err, "instance %s is not answering", cfg.URL)
	}
	serverVersion, _ := ver.Get("server_version")

	reg, err := registry.NewEtcdRegistry(cmd.Discovery.Etcd)
	if err != nil {
		return err
	}
	defer reg.Close()

	inst := registry.Instance{URL: cl.ConnectionInfo().URL, Weight: cmd.Weight, Database: cfg.Database}
	if s, ok := serverVersion.(message.String); ok {
		inst.Version = string(s)
	}
	if err := reg.Register(cmd.Ctx, cmd.Discovery.Service, inst, cmd.TTL); err != nil {
		return err
	}
	<-cmd.Ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return reg.Deregister(ctx, cmd.Discovery.Service, inst.URL)
}

// ServeCommand runs the in-process fake ERP
type ServeCommand struct {
	Listen    string   `long:"listen" default:":8069" description:"listen address"`
	Advertise string   `long:"advertise" description:"base url registered in etcd"`
	Users     []string `long:"user" default:"admin:admin" description:"login:password, repeatable"`
	Models    []string `long:"model" default:"res.partner:name,email,phone" description:"model:field,field, repeatable"`
	CommonOpts
}

// Execute serves until interrupted
func (cmd *ServeCommand) Execute(_ []string) error {
	svr, err := cmd.buildServer()
	if err != nil {
		return err
	}

	var reg registry.Registry
	if cmd.Discovery.Enabled() {
		if cmd.Advertise == "" {
			return errors.New("--advertise is required with discovery")
		}
		etcdReg, err := registry.NewEtcdRegistry(cmd.Discovery.Etcd)
		if err != nil {
			return err
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	go func() {
		<-cmd.Ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svr.Shutdown(ctx); err != nil {
			log.Printf("[WARN] %v", err)
		}
	}()
	return svr.ListenAndServe(cmd.Listen, cmd.Advertise, reg)
}

func (cmd *ServeCommand) buildServer() (*server.Server, error) {
	svr := server.NewServer(cmd.Cfg.Database)
	for _, u := range cmd.Users {
		login, password, ok := strings.Cut(u, ":")
		if !ok || login == "" {
			return nil, errors.Errorf("bad user %q, want login:password", u)
		}
		uid := svr.AddUser(login, password)
		log.Printf("[DEBUG] user %s has uid %d", login, uid)
	}
	for _, m := range cmd.Models {
		name, fieldList, _ := strings.Cut(m, ":")
		fields := map[string]string{}
		for _, f := range strings.Split(fieldList, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields[f] = "char"
			}
		}
		if err := svr.Register(name, server.NewRecords(name, fields)); err != nil {
			return nil, err
		}
	}
	svr.Use(middleware.LoggingMiddleware(log.Default()))
	return svr, nil
}
