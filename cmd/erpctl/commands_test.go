package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-rpc/config"
	"erp-rpc/diag"
	"erp-rpc/message"
	"erp-rpc/server"
)

func startERP(t *testing.T) *httptest.Server {
	svr := server.NewServer("odoo")
	svr.AddUser("admin", "admin")
	require.NoError(t, svr.Register("res.partner", server.NewRecords("res.partner", map[string]string{"name": "char"})))
	ts := httptest.NewServer(svr)
	t.Cleanup(ts.Close)
	return ts
}

func common(url string, out *bytes.Buffer) CommonOpts {
	cfg := config.Default()
	cfg.URL = url
	return CommonOpts{Ctx: context.Background(), Cfg: cfg, Out: out}
}

func TestProbeCommand(t *testing.T) {
	ts := startERP(t)
	out := &bytes.Buffer{}
	cmd := ProbeCommand{}
	cmd.SetCommon(common(ts.URL, out))
	require.NoError(t, cmd.Execute(nil))

	var st map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &st))
	assert.Equal(t, true, st["success"])
}

func TestAuthCommand(t *testing.T) {
	ts := startERP(t)
	out := &bytes.Buffer{}
	cmd := AuthCommand{}
	cmd.SetCommon(common(ts.URL, out))
	require.NoError(t, cmd.Execute(nil))
	assert.Contains(t, out.String(), `"session_id": 2`)
	assert.NotContains(t, out.String(), "password")

	opts := common(ts.URL, &bytes.Buffer{})
	opts.Cfg.Password = "wrong"
	cmd.SetCommon(opts)
	assert.Error(t, cmd.Execute(nil))
}

func TestVersionCommand(t *testing.T) {
	ts := startERP(t)
	out := &bytes.Buffer{}
	cmd := VersionCommand{}
	cmd.SetCommon(common(ts.URL, out))
	require.NoError(t, cmd.Execute(nil))
	assert.Contains(t, out.String(), `"server_version": "17.0"`)
}

func TestCallCommand(t *testing.T) {
	ts := startERP(t)

	out := &bytes.Buffer{}
	cmd := CallCommand{Model: "res.partner", Method: "create", Args: `[{"name": "Acme"}]`, Kwargs: "{}"}
	cmd.SetCommon(common(ts.URL, out))
	require.NoError(t, cmd.Execute(nil))
	assert.Equal(t, "1\n", out.String())

	out.Reset()
	cmd = CallCommand{Model: "res.partner", Method: "search_read", Args: `[[["id", "=", 1]]]`, Kwargs: `{"fields": ["name"]}`}
	cmd.SetCommon(common(ts.URL, out))
	require.NoError(t, cmd.Execute(nil))
	var recs []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &recs))
	assert.Equal(t, []map[string]any{{"id": float64(1), "name": "Acme"}}, recs)

	cmd = CallCommand{Model: "res.partner", Method: "search", Args: `not json`, Kwargs: "{}"}
	cmd.SetCommon(common(ts.URL, out))
	assert.Error(t, cmd.Execute(nil))
}

func TestFromJSON(t *testing.T) {
	var v any
	require.NoError(t, decodeJSON(`{"a": [1, 2.5, "x", null, true]}`, &v))
	assert.Equal(t, map[string]any{"a": []any{int64(1), 2.5, "x", nil, true}}, fromJSON(v))
}

func TestDiagCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diag.db")
	sink, err := diag.NewBoltSink(path, 0)
	require.NoError(t, err)
	id, err := sink.Save(diag.Record{Kind: "html body", URL: "http://erp/xmlrpc/2/object", StatusCode: 200, Body: []byte("<html>down</html>")})
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	out := &bytes.Buffer{}
	opts := common("http://localhost:8069", out)
	opts.Cfg.DiagPath = path

	cmd := DiagCommand{Limit: 10}
	cmd.SetCommon(opts)
	require.NoError(t, cmd.Execute(nil))
	var entries []diagEntry
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, 17, entries[0].Size)

	out.Reset()
	cmd = DiagCommand{ID: id}
	cmd.SetCommon(opts)
	require.NoError(t, cmd.Execute(nil))
	assert.Equal(t, "<html>down</html>", out.String())

	cmd = DiagCommand{}
	cmd.SetCommon(common("http://localhost:8069", out))
	assert.Error(t, cmd.Execute(nil))
}

func TestCallCommandKeepsBadBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<!DOCTYPE html><html>maintenance</html>"))
	}))
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "diag.db")
	opts := common(ts.URL, &bytes.Buffer{})
	opts.Cfg.DiagPath = path
	cmd := CallCommand{Model: "res.partner", Method: "search", Args: "[]", Kwargs: "{}"}
	cmd.SetCommon(opts)
	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[diag ")

	sink, err := diag.NewBoltSink(path, 0)
	require.NoError(t, err)
	defer sink.Close()
	recs, err := sink.List(0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "<!DOCTYPE html><html>maintenance</html>", string(recs[0].Body))
}

func TestServeCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := common("http://localhost:8069", &bytes.Buffer{})
	opts.Ctx = ctx
	cmd := ServeCommand{Listen: "127.0.0.1:0", Users: []string{"admin:admin"}, Models: []string{"res.partner:name,email"}}
	cmd.SetCommon(opts)

	done := make(chan error, 1)
	go func() { done <- cmd.Execute(nil) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve didn't stop")
	}
}

func TestServeBuildServer(t *testing.T) {
	cmd := ServeCommand{Users: []string{"bot:pw"}, Models: []string{"res.partner:name, email", "sale.order"}}
	cmd.SetCommon(common("http://localhost:8069", &bytes.Buffer{}))
	svr, err := cmd.buildServer()
	require.NoError(t, err)
	ts := httptest.NewServer(svr)
	defer ts.Close()

	out := &bytes.Buffer{}
	opts := common(ts.URL, out)
	opts.Cfg.Username, opts.Cfg.Password = "bot", "pw"
	call := CallCommand{Model: "sale.order", Method: "search_count", Args: "[[]]", Kwargs: "{}"}
	call.SetCommon(opts)
	require.NoError(t, call.Execute(nil))
	assert.Equal(t, "0\n", out.String())
	assert.Equal(t, int64(1), svr.Calls(message.ServiceCommon))

	cmd.Users = []string{"nopassword"}
	_, err = cmd.buildServer()
	assert.Error(t, err)
}
