package nodes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"nodewatch/internal/protocol"
	"nodewatch/internal/types"
)

type Source int

const (
	SourceRealtime Source = iota
	SourceREST
)

func (s Source) String() string {
	if s == SourceREST {
		return "rest"
	}
	return "realtime"
}

// Normalize converts a raw node list into canonical records. raw may be a
// JSON array or an object wrapping it under "nodes" or "data". Entries
// without a reference code are skipped; missing fields get defaults.
func Normalize(raw json.RawMessage, src Source) ([]types.NodeRecord, error) {
	list, err := unwrapList(raw)
	if err != nil {
		return nil, err
	}

	records := make([]types.NodeRecord, 0, len(list))
	for _, item := range list {
		var rec types.NodeRecord
		var ok bool
		if src == SourceREST {
			rec, ok = fromREST(item)
		} else {
			rec, ok = fromRealtime(item)
		}
		if ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func unwrapList(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var list []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode node list: %w", err)
		}
		return list, nil
	}

	var wrapper struct {
		Nodes json.RawMessage `json:"nodes"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("decode node list: %w", err)
	}
	inner := wrapper.Nodes
	if len(inner) == 0 {
		inner = wrapper.Data
	}
	if len(inner) == 0 || inner[0] != '[' {
		return nil, fmt.Errorf("decode node list: no nodes array")
	}
	return unwrapList(inner)
}

func fromRealtime(item json.RawMessage) (types.NodeRecord, bool) {
	var n realtimeNode
	if err := json.Unmarshal(item, &n); err != nil || strings.TrimSpace(n.ReferenceCode) == "" {
		return types.NodeRecord{}, false
	}

	rec := base(n.ReferenceCode, n.Name)
	rec.Status = Status(n.Status)
	if n.IsConnected != nil {
		rec.Connected = *n.IsConnected
	} else {
		rec.Connected = rec.IsActive()
	}
	if p := n.Performance; p != nil {
		rec.Resources.CPU = resource(p.CPUUsage, p.CPUTotal)
		rec.Resources.Memory = resource(p.MemoryUsage, p.MemoryTotal)
		rec.Resources.Storage = resource(p.StorageUsage, p.StorageTotal)
		rec.Resources.Bandwidth = resource(p.BandwidthUsage, p.BandwidthTotal)
	}
	if e := n.Earnings; e != nil {
		rec.Earnings.Total = e.Total.or(0)
		rec.Earnings.Today = e.Today.or(0)
	}
	if h := n.Heartbeat; h != nil {
		rec.Heartbeat.Count = int(h.Count.or(0))
		rec.Heartbeat.Missed = int(h.Missed.or(0))
	}
	rec.LastSeen = n.LastSeen.Time
	return rec, true
}

func fromREST(item json.RawMessage) (types.NodeRecord, bool) {
	var n restNode
	if err := json.Unmarshal(item, &n); err != nil || strings.TrimSpace(n.Code) == "" {
		return types.NodeRecord{}, false
	}

	rec := base(n.Code, n.NodeName)
	switch {
	case n.State != "":
		rec.Status = Status(n.State)
	case n.Online != nil && *n.Online:
		rec.Status = types.NodeOnline
	case n.Online != nil:
		rec.Status = types.NodeOffline
	default:
		rec.Status = types.NodePending
	}
	if n.Online != nil {
		rec.Connected = *n.Online
	} else {
		rec.Connected = rec.IsActive()
	}
	if m := n.Metrics; m != nil {
		rec.Resources.CPU = resource(m.CPU, nil)
		rec.Resources.Memory = resource(m.Memory, nil)
		rec.Resources.Storage = resource(m.Disk, nil)
		rec.Resources.Bandwidth = resource(m.Network, nil)
	}
	rec.Earnings.Total = n.TotalEarnings.or(0)
	rec.Heartbeat.Count = int(n.Heartbeats.or(0))
	rec.LastSeen = n.LastHeartbeat.Time
	return rec, true
}

func base(ref, name string) types.NodeRecord {
	ref = strings.TrimSpace(ref)
	name = strings.TrimSpace(name)
	if name == "" {
		name = ref
	}
	unknown := types.Resource{Total: types.UnknownTotal}
	return types.NodeRecord{
		ReferenceCode: ref,
		Name:          name,
		Status:        types.NodePending,
		Resources: types.Resources{
			CPU:       unknown,
			Memory:    unknown,
			Storage:   unknown,
			Bandwidth: unknown,
		},
	}
}

func resource(usage, total *number) types.Resource {
	return types.Resource{
		Usage: clampUsage(usage.or(0)),
		Total: total.or(types.UnknownTotal),
	}
}

func clampUsage(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

// Status maps a service status string to a NodeStatus. Empty means pending,
// anything unrecognised is treated as offline.
func Status(s string) types.NodeStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return types.NodePending
	case "online", "up", "running":
		return types.NodeOnline
	case "active":
		return types.NodeActive
	case "pending", "registering", "syncing":
		return types.NodePending
	}
	return types.NodeOffline
}

// Decode extracts the node list and optional server summary carried by a
// status_update or auth_success frame.
func Decode(env protocol.Envelope) ([]types.NodeRecord, *types.AggregateStats, error) {
	switch env.Type {
	case protocol.TypeStatusUpdate:
		var msg protocol.StatusUpdate
		if err := env.Into(&msg); err != nil {
			return nil, nil, fmt.Errorf("decode status_update: %w", err)
		}
		records, err := Normalize(msg.Nodes, SourceRealtime)
		if err != nil {
			return nil, nil, err
		}
		var summary *types.AggregateStats
		if len(bytes.TrimSpace(msg.Summary)) > 0 && !bytes.Equal(bytes.TrimSpace(msg.Summary), []byte("null")) {
			var s types.AggregateStats
			if err := json.Unmarshal(msg.Summary, &s); err == nil {
				summary = &s
			}
		}
		return records, summary, nil

	case protocol.TypeAuthSuccess:
		var msg protocol.AuthSuccess
		if err := env.Into(&msg); err != nil {
			return nil, nil, fmt.Errorf("decode auth_success: %w", err)
		}
		if len(msg.Nodes) == 0 {
			return nil, nil, nil
		}
		records, err := Normalize(msg.Nodes, SourceRealtime)
		return records, nil, err
	}
	return nil, nil, fmt.Errorf("frame %q carries no nodes", env.Type)
}
