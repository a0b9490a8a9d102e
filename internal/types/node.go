package types

import "time"

type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeActive  NodeStatus = "active"
	NodeOffline NodeStatus = "offline"
	NodePending NodeStatus = "pending"
)

// UnknownTotal marks a resource capacity the source did not report.
const UnknownTotal = -1

type Resource struct {
	Usage int     `json:"usage"` // 0-100
	Total float64 `json:"total"`
}

type Resources struct {
	CPU       Resource `json:"cpu"`
	Memory    Resource `json:"memory"`
	Storage   Resource `json:"storage"`
	Bandwidth Resource `json:"bandwidth"`
}

type Earnings struct {
	Total float64 `json:"total"`
	Today float64 `json:"today"`
}

type Heartbeat struct {
	Count  int `json:"count"`
	Missed int `json:"missed"`
}

// NodeRecord is the canonical per-node snapshot every consumer renders.
type NodeRecord struct {
	ReferenceCode string     `json:"reference_code"`
	Name          string     `json:"name"`
	Status        NodeStatus `json:"status"`
	Connected     bool       `json:"connected"`
	Resources     Resources  `json:"resources"`
	Earnings      Earnings   `json:"earnings"`
	Heartbeat     Heartbeat  `json:"heartbeat"`
	LastSeen      time.Time  `json:"last_seen"`

	// Consumer-owned view flags, carried over by nodes.Merge.
	Selected bool `json:"-"`
	Expanded bool `json:"-"`
}

func (n NodeRecord) IsActive() bool {
	return n.Status == NodeOnline || n.Status == NodeActive
}

type AggregateStats struct {
	Total         int     `json:"total"`
	Active        int     `json:"active"`
	Offline       int     `json:"offline"`
	Pending       int     `json:"pending"`
	AvgCPU        float64 `json:"avg_cpu"`
	AvgMemory     float64 `json:"avg_memory"`
	AvgStorage    float64 `json:"avg_storage"`
	AvgBandwidth  float64 `json:"avg_bandwidth"`
	TotalEarnings float64 `json:"total_earnings"`
}
