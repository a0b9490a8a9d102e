package nodes

import (
	"encoding/json"
	"testing"

	"nodewatch/internal/protocol"
	"nodewatch/internal/types"
)

func TestNormalizeRealtimeDefaults(t *testing.T) {
	raw := json.RawMessage(`[
		{"reference_code":"N-1","status":"online","performance":{"cpu_usage":42.6,"memory_usage":"55","cpu_total":8}},
		{"reference_code":"N-2"},
		{"name":"no reference"}
	]`)

	records, err := Normalize(raw, SourceRealtime)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.Resources.CPU.Usage != 43 || first.Resources.Memory.Usage != 55 {
		t.Fatalf("unexpected usage %+v", first.Resources)
	}
	if first.Resources.CPU.Total != 8 || first.Resources.Memory.Total != types.UnknownTotal {
		t.Fatalf("unexpected totals %+v", first.Resources)
	}
	if first.Name != "N-1" || !first.Connected {
		t.Fatalf("expected name default and connected, got %+v", first)
	}

	second := records[1]
	if second.Status != types.NodePending {
		t.Fatalf("expected pending for missing status, got %s", second.Status)
	}
	if second.Resources.CPU.Usage != 0 || second.Resources.Memory.Usage != 0 {
		t.Fatalf("expected zero usage without performance, got %+v", second.Resources)
	}
	if second.Resources.Storage.Total != types.UnknownTotal {
		t.Fatalf("expected unknown total, got %v", second.Resources.Storage.Total)
	}
}

func TestNormalizeRESTShape(t *testing.T) {
	raw := json.RawMessage(`{"nodes":[
		{"code":"R-1","node_name":"rack one","online":true,"metrics":{"cpu":120,"memory":-3,"disk":10.4},"total_earnings":"1.5","heartbeats":9,"last_heartbeat":1700000000000},
		{"code":"R-2","state":"decommissioned"}
	]}`)

	records, err := Normalize(raw, SourceREST)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	r := records[0]
	if r.Status != types.NodeOnline || r.Name != "rack one" {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.Resources.CPU.Usage != 100 || r.Resources.Memory.Usage != 0 || r.Resources.Storage.Usage != 10 {
		t.Fatalf("expected clamped usage, got %+v", r.Resources)
	}
	if r.Earnings.Total != 1.5 || r.Heartbeat.Count != 9 {
		t.Fatalf("unexpected earnings/heartbeat %+v %+v", r.Earnings, r.Heartbeat)
	}
	if r.LastSeen.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected last seen %v", r.LastSeen)
	}
	if records[1].Status != types.NodeOffline {
		t.Fatalf("expected unknown state to map to offline, got %s", records[1].Status)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	if _, err := Normalize(json.RawMessage(`{"foo":1}`), SourceRealtime); err == nil {
		t.Fatal("expected error for object without nodes")
	}
	records, err := Normalize(nil, SourceRealtime)
	if err != nil || len(records) != 0 {
		t.Fatalf("expected empty result for nil payload, got %v %v", records, err)
	}
}

func TestSummarizeAveragesActiveOnly(t *testing.T) {
	records := []types.NodeRecord{
		{ReferenceCode: "a", Status: types.NodeOnline, Resources: types.Resources{CPU: types.Resource{Usage: 40}, Memory: types.Resource{Usage: 20}}, Earnings: types.Earnings{Total: 1}},
		{ReferenceCode: "b", Status: types.NodeActive, Resources: types.Resources{CPU: types.Resource{Usage: 60}, Memory: types.Resource{Usage: 30}}, Earnings: types.Earnings{Total: 2}},
		{ReferenceCode: "c", Status: types.NodeOffline, Resources: types.Resources{CPU: types.Resource{Usage: 100}}, Earnings: types.Earnings{Total: 0.5}},
		{ReferenceCode: "d", Status: types.NodePending},
	}

	s := Summarize(records)
	if s.Total != 4 || s.Active != 2 || s.Offline != 1 || s.Pending != 1 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if s.AvgCPU != 50 || s.AvgMemory != 25 {
		t.Fatalf("expected averages over active nodes, got cpu=%v mem=%v", s.AvgCPU, s.AvgMemory)
	}
	if s.TotalEarnings != 3.5 {
		t.Fatalf("expected total earnings 3.5, got %v", s.TotalEarnings)
	}

	empty := Summarize(nil)
	if empty.Total != 0 || empty.AvgCPU != 0 {
		t.Fatalf("unexpected empty summary %+v", empty)
	}
}

func TestMergeKeepsViewFlags(t *testing.T) {
	prev := []types.NodeRecord{{ReferenceCode: "a", Name: "old", Selected: true, Expanded: true}}
	next := []types.NodeRecord{{ReferenceCode: "a", Name: "new"}, {ReferenceCode: "b"}}

	merged := Merge(prev, next)
	if merged[0].Name != "new" || !merged[0].Selected || !merged[0].Expanded {
		t.Fatalf("unexpected merged record %+v", merged[0])
	}
	if merged[1].Selected {
		t.Fatal("new record must not inherit flags")
	}
}

func TestDecodeStatusUpdate(t *testing.T) {
	data := []byte(`{"type":"status_update","nodes":[{"reference_code":"N-1","status":"active"}],"summary":{"total":1,"active":1}}`)
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	records, summary, err := Decode(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].Status != types.NodeActive {
		t.Fatalf("unexpected records %+v", records)
	}
	if summary == nil || summary.Active != 1 {
		t.Fatalf("expected server summary, got %+v", summary)
	}

	env, _ = protocol.Decode([]byte(`{"type":"pong"}`))
	if _, _, err := Decode(env); err == nil {
		t.Fatal("expected error for frame without nodes")
	}
}

func TestNormalizeDropsNonFiniteNumbers(t *testing.T) {
	raw := json.RawMessage(`[
		{"reference_code":"N-1","status":"online","performance":{"cpu_usage":"Inf","cpu_total":"NaN","memory_total":"-Infinity"},"earnings":{"total":"NaN","today":"2"}}
	]`)

	records, err := Normalize(raw, SourceRealtime)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	rec := records[0]
	if rec.Resources.CPU.Total != types.UnknownTotal || rec.Resources.Memory.Total != types.UnknownTotal {
		t.Fatalf("expected unknown totals, got %+v", rec.Resources)
	}
	if rec.Resources.CPU.Usage != 0 {
		t.Fatalf("expected zero cpu usage, got %d", rec.Resources.CPU.Usage)
	}
	if rec.Earnings.Total != 0 || rec.Earnings.Today != 2 {
		t.Fatalf("expected earnings 0/2, got %+v", rec.Earnings)
	}

	if _, err := json.Marshal(records); err != nil {
		t.Fatalf("expected records to marshal, got %v", err)
	}
	if _, err := json.Marshal(Summarize(records)); err != nil {
		t.Fatalf("expected summary to marshal, got %v", err)
	}
}
