package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nodewatch/internal/hub"
	"nodewatch/internal/metrics"
	"nodewatch/internal/protocol"
	"nodewatch/internal/types"
)

type fakeSource struct {
	*hub.Hub
	snap types.StateSnapshot
}

func (f *fakeSource) Wallet() string                { return f.snap.Wallet }
func (f *fakeSource) Snapshot() types.StateSnapshot { return f.snap }

func newDashboard(t *testing.T, origins []string) (*Dashboard, *fakeSource, *httptest.Server) {
	t.Helper()
	src := &fakeSource{
		Hub:  hub.NewHub(),
		snap: types.StateSnapshot{Wallet: "0xabc", State: types.StateMonitoring},
	}
	d := New(0, src, metrics.New(), origins)
	ts := httptest.NewServer(d.Handler())
	t.Cleanup(func() {
		ts.Close()
		d.Stop()
	})
	return d, src, ts
}

func statusFrame(t *testing.T) protocol.Envelope {
	t.Helper()
	env, err := protocol.Decode([]byte(`{"type":"status_update","nodes":[
		{"reference_code":"N-1","status":"online","performance":{"cpu_usage":40,"memory_usage":60}},
		{"reference_code":"N-2","status":"offline"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func waitNodes(t *testing.T, d *Dashboard, n int) []types.NodeRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if records, _ := d.View(); len(records) == n {
			return records
		}
		time.Sleep(10 * time.Millisecond)
	}
	records, _ := d.View()
	t.Fatalf("expected %d nodes, got %d", n, len(records))
	return nil
}

func TestStatusFramesUpdateView(t *testing.T) {
	d, src, ts := newDashboard(t, nil)

	src.Publish(hub.FrameEvent("0xabc", types.StateMonitoring, statusFrame(t)))
	waitNodes(t, d, 2)

	resp, err := http.Get(ts.URL + "/api/summary")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	defer resp.Body.Close()
	var summary types.AggregateStats
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Total != 2 || summary.Active != 1 || summary.AvgCPU != 40 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestNonNodeFramesIgnored(t *testing.T) {
	d, src, _ := newDashboard(t, nil)
	pong, _ := protocol.Decode([]byte(`{"type":"pong","timestamp":1}`))

	src.Publish(hub.FrameEvent("0xabc", types.StateMonitoring, pong))
	src.Publish(hub.FrameEvent("0xabc", types.StateMonitoring, statusFrame(t)))
	waitNodes(t, d, 2)
}

func TestStateEndpoint(t *testing.T) {
	_, _, ts := newDashboard(t, nil)

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)
	if body["state"] != "monitoring" || body["wallet"] != "0xabc" {
		t.Fatalf("unexpected state body %v", body)
	}
}

func TestIndexRendersTemplate(t *testing.T) {
	_, _, ts := newDashboard(t, nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "0xabc") {
		t.Fatalf("expected rendered dashboard, got %d", resp.StatusCode)
	}

	missing, _ := http.Get(ts.URL + "/nope")
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	d, src, ts := newDashboard(t, nil)
	src.Publish(hub.FrameEvent("0xabc", types.StateMonitoring, statusFrame(t)))
	waitNodes(t, d, 2)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `nodewatch_nodes{status="active"} 1`) {
		t.Fatalf("expected node gauge in metrics output")
	}
}

func TestWebSocketRelay(t *testing.T) {
	_, src, ts := newDashboard(t, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg relayMessage
	for _, want := range []string{"state", "nodes"} {
		if err := conn.ReadJSON(&msg); err != nil || msg.Type != want {
			t.Fatalf("expected initial %s message, got %v %v", want, msg.Type, err)
		}
	}

	// the client is registered after the initial messages; give it a moment
	time.Sleep(50 * time.Millisecond)
	src.Publish(hub.ErrorEvent("0xabc", types.StateMonitoring, &types.ServerError{Code: "X", Message: "boom"}))
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "error" {
		t.Fatalf("expected relayed error, got %v %v", msg.Type, err)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	_, _, ts := newDashboard(t, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}
