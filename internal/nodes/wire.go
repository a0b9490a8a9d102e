package nodes

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// number accepts JSON numbers, numeric strings and null. Non-finite strings
// such as "NaN" or "Inf" count as absent.
type number struct {
	Value float64
	Set   bool
}

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		n.Value, n.Set = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	n.Value, n.Set = v, true
	return nil
}

func (n *number) or(def float64) float64 {
	if n == nil || !n.Set {
		return def
	}
	return n.Value
}

// timestamp accepts RFC3339 strings and unix seconds or milliseconds.
type timestamp struct {
	time.Time
}

func (t *timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = parsed
			return nil
		}
		data = []byte(s)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil || v <= 0 {
		return nil
	}
	if v > 1e12 {
		t.Time = time.UnixMilli(v)
	} else {
		t.Time = time.Unix(v, 0)
	}
	return nil
}

type realtimeNode struct {
	ReferenceCode string `json:"reference_code"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	IsConnected   *bool  `json:"is_connected"`
	Performance   *struct {
		CPUUsage       *number `json:"cpu_usage"`
		MemoryUsage    *number `json:"memory_usage"`
		StorageUsage   *number `json:"storage_usage"`
		BandwidthUsage *number `json:"bandwidth_usage"`
		CPUTotal       *number `json:"cpu_total"`
		MemoryTotal    *number `json:"memory_total"`
		StorageTotal   *number `json:"storage_total"`
		BandwidthTotal *number `json:"bandwidth_total"`
	} `json:"performance"`
	Earnings *struct {
		Total *number `json:"total"`
		Today *number `json:"today"`
	} `json:"earnings"`
	Heartbeat *struct {
		Count  *number `json:"count"`
		Missed *number `json:"missed"`
	} `json:"heartbeat"`
	LastSeen timestamp `json:"last_seen"`
}

type restNode struct {
	Code     string `json:"code"`
	NodeName string `json:"node_name"`
	State    string `json:"state"`
	Online   *bool  `json:"online"`
	Metrics  *struct {
		CPU     *number `json:"cpu"`
		Memory  *number `json:"memory"`
		Disk    *number `json:"disk"`
		Network *number `json:"network"`
	} `json:"metrics"`
	TotalEarnings *number   `json:"total_earnings"`
	Heartbeats    *number   `json:"heartbeats"`
	LastHeartbeat timestamp `json:"last_heartbeat"`
}
