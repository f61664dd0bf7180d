package test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	log "github.com/go-pkgz/lgr"

	"erp-rpc/client"
	"erp-rpc/codec"
	"erp-rpc/config"
	"erp-rpc/message"
	"erp-rpc/protocol"
	"erp-rpc/server"
)

func setupBench(b *testing.B) *client.Client {
	svr := server.NewServer("odoo")
	svr.AddUser("admin", "admin")
	svr.RegisterFunc("x.arith", "add", func(_ context.Context, args message.Array, _ *message.Struct) (message.Value, error) {
		var sum message.Int
		for _, a := range args {
			i, _ := a.(message.Int)
			sum += i
		}
		return sum, nil
	})
	ts := httptest.NewServer(svr)
	b.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.URL = ts.URL
	cl, err := client.New(cfg, client.WithLogger(log.NoOp))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(cl.Close)
	if _, err := cl.Authenticate(context.Background()); err != nil {
		b.Fatal(err)
	}
	return cl
}

func benchRecord() *message.Struct {
	return message.NewStruct(
		message.Member{Name: "id", Value: message.Int(42)},
		message.Member{Name: "name", Value: message.String("Acme & Sons <intl>")},
		message.Member{Name: "credit", Value: message.Double(1234.5)},
		message.Member{Name: "active", Value: message.Bool(true)},
		message.Member{Name: "category_id", Value: message.Array{message.Int(1), message.Int(7), message.Int(9)}},
		message.Member{Name: "parent_id", Value: message.Array{message.Int(3), message.String("Acme Holding")}},
	)
}

// one call at a time over keep-alive connections
func BenchmarkSerialExecute(b *testing.B) {
	cl := setupBench(b)
	ctx := context.Background()
	args := message.Array{message.Int(1), message.Int(2)}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := cl.Execute(ctx, "x.arith", "add", args, nil); err != nil {
			b.Fatal(err)
		}
	}
}

// many goroutines sharing one client and its cached uid
func BenchmarkConcurrentExecute(b *testing.B) {
	cl := setupBench(b)
	ctx := context.Background()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		args := message.Array{message.Int(1), message.Int(2)}
		for pb.Next() {
			if _, err := cl.Execute(ctx, "x.arith", "add", args, nil); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// value encoding only, no network
func BenchmarkEncode(b *testing.B) {
	recs := message.Array{benchRecord(), benchRecord(), benchRecord()}
	var buf bytes.Buffer
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		if err := codec.Encode(&buf, recs); err != nil {
			b.Fatal(err)
		}
	}
}

// full methodResponse parse of a search_read-like answer
func BenchmarkDecodeResponse(b *testing.B) {
	data, err := protocol.MarshalResponse(message.Array{benchRecord(), benchRecord(), benchRecord()})
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := protocol.UnmarshalResponse(data); err != nil {
			b.Fatal(err)
		}
	}
}
