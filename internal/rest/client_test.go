package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"nodewatch/internal/signature"
	"nodewatch/internal/types"
)

func TestNodesSendsSignedHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != EndpointNodes {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get(HeaderWallet) != "0xabc" || r.Header.Get(HeaderSignature) != "sig:0xabc" {
			t.Errorf("missing wallet headers: %v", r.Header)
		}
		if !strings.Contains(DecodeMessage(r.Header.Get(HeaderMessage)), "\nWallet: 0xabc") {
			t.Errorf("unexpected message header %q", r.Header.Get(HeaderMessage))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"nodes":[{"code":"R-1","state":"online","metrics":{"cpu":30}},{"code":"R-2","online":false}]}`))
	}))
	defer srv.Close()

	sigs := signature.NewCache(signature.SignerFunc(func(ctx context.Context, msg, addr string) (string, error) {
		return "sig:" + addr, nil
	}))
	c := NewClient(srv.URL, sigs)

	records, summary, err := c.Nodes(context.Background(), "0xABC")
	if err != nil {
		t.Fatalf("nodes: %v", err)
	}
	if len(records) != 2 || records[0].Resources.CPU.Usage != 30 {
		t.Fatalf("unexpected records %+v", records)
	}
	if summary.Active != 1 || summary.Offline != 1 || summary.AvgCPU != 30 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestNodesRefreshesSignatureOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[{"code":"R-1","state":"active"}]`))
	}))
	defer srv.Close()

	var signs atomic.Int32
	sigs := signature.NewCache(signature.SignerFunc(func(ctx context.Context, msg, addr string) (string, error) {
		signs.Add(1)
		return "sig", nil
	}))
	c := NewClient(srv.URL, sigs)

	records, _, err := c.Nodes(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("nodes: %v", err)
	}
	if len(records) != 1 || hits.Load() != 2 || signs.Load() != 2 {
		t.Fatalf("expected one retry with fresh signature, got hits=%d signs=%d", hits.Load(), signs.Load())
	}
}

func TestNodesReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sigs := signature.NewCache(signature.SignerFunc(func(ctx context.Context, msg, addr string) (string, error) {
		return "sig", nil
	}))
	_, _, err := NewClient(srv.URL, sigs).Nodes(context.Background(), "0xabc")
	if !errors.Is(err, types.ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
}

func TestNodesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sigs := signature.NewCache(signature.SignerFunc(func(ctx context.Context, msg, addr string) (string, error) {
		return "sig", nil
	}))
	_, _, err := NewClient(srv.URL, sigs).Nodes(context.Background(), "0xabc")
	var se *types.ServerError
	if !errors.As(err, &se) || se.Message != "maintenance" {
		t.Fatalf("expected server error, got %v", err)
	}
}
