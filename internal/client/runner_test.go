package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nodewatch/internal/config"
	"nodewatch/internal/hub"
	"nodewatch/internal/mockserver"
	"nodewatch/internal/session"
	"nodewatch/internal/types"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestApp(t *testing.T) (*App, *mockserver.Server) {
	t.Helper()
	t.Setenv("NODEWATCH_LOG_DIR", t.TempDir())

	srv := mockserver.NewServer(mockserver.Options{})
	ts := httptest.NewServer(srv.Handler())

	cfg := &config.Config{
		WSURL:          "ws" + strings.TrimPrefix(ts.URL, "http") + mockserver.EndpointWebSocket,
		APIURL:         ts.URL,
		WalletKey:      testKey,
		WalletType:     "evm",
		NodeJWT:        "header.payload.sig",
		PingInterval:   time.Second,
		ConnectTimeout: 2 * time.Second,
		MaxReconnects:  1,
		DashboardPort:  4041,
	}
	app, err := NewApp(cfg, session.NewMemoryStore())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() {
		app.Close()
		ts.Close()
		srv.Cleanup()
	})
	return app, srv
}

func TestNodesOverHTTP(t *testing.T) {
	app, srv := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	records, stats, err := app.Nodes(ctx)
	if err != nil {
		t.Fatalf("nodes: %v", err)
	}
	want := len(srv.NodeReferences(app.Signer.Address()))
	if len(records) != want || stats.Total != want {
		t.Fatalf("expected %d nodes, got %d (summary %d)", want, len(records), stats.Total)
	}
}

func TestExecRunsRemoteCommand(t *testing.T) {
	app, srv := newTestApp(t)
	node := srv.NodeReferences(app.Signer.Address())[0]
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, token, err := app.Exec(ctx, node, "echo", []string{"hi"})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !reply.Success || !strings.Contains(string(reply.Data), "hi") {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if token.NodeReference != node || token.Token == "" {
		t.Fatalf("unexpected token %+v", token)
	}
	if st := srv.Stats(); st.SignatureAuths != 1 {
		t.Fatalf("expected one signature auth, got %+v", st)
	}
}

func TestExecUnknownNode(t *testing.T) {
	app, _ := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _, err := app.Exec(ctx, "NW-0000-9", "status", nil)
	var se *types.ServerError
	if !errors.As(err, &se) || se.Code != "REMOTE_AUTH_FAILED" {
		t.Fatalf("expected REMOTE_AUTH_FAILED, got %v", err)
	}
}

func TestExecRequiresCredential(t *testing.T) {
	app, _ := newTestApp(t)
	app.Config.NodeJWT = ""

	if _, _, err := app.Exec(context.Background(), "x", "status", nil); err == nil {
		t.Fatalf("expected error without credential")
	}
}

func TestWaitAuthenticatedReportsFailure(t *testing.T) {
	events := make(chan hub.Event, 2)
	events <- hub.StateEvent("0xabc", types.StateConnecting, types.StateError, types.ErrSigningDeclined)

	err := WaitAuthenticated(context.Background(), events)
	if !errors.Is(err, types.ErrSigningDeclined) {
		t.Fatalf("expected signing declined, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := WaitAuthenticated(ctx, make(chan hub.Event)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestFleetLine(t *testing.T) {
	line := FleetLine(types.AggregateStats{Total: 3, Active: 2, AvgCPU: 12.5, TotalEarnings: 1.234})
	if !strings.Contains(line, "3 nodes") || !strings.Contains(line, "12.5%") || !strings.Contains(line, "1.23") {
		t.Fatalf("unexpected fleet line %q", line)
	}
}
