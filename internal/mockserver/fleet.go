package mockserver

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Node is a fleet entry in the realtime wire shape.
type Node struct {
	ReferenceCode string      `json:"reference_code"`
	Name          string      `json:"name"`
	Status        string      `json:"status"`
	IsConnected   bool        `json:"is_connected"`
	Performance   Performance `json:"performance"`
	Earnings      Earnings    `json:"earnings"`
	Heartbeat     Heartbeat   `json:"heartbeat"`
	LastSeen      time.Time   `json:"last_seen"`
}

type Performance struct {
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryUsage    float64 `json:"memory_usage"`
	StorageUsage   float64 `json:"storage_usage"`
	BandwidthUsage float64 `json:"bandwidth_usage"`
	CPUTotal       float64 `json:"cpu_total"`
	MemoryTotal    float64 `json:"memory_total"`
	StorageTotal   float64 `json:"storage_total"`
}

type Earnings struct {
	Total float64 `json:"total"`
	Today float64 `json:"today"`
}

type Heartbeat struct {
	Count  int `json:"count"`
	Missed int `json:"missed"`
}

// restNode is the shape served by the HTTP fallback endpoint.
type restNode struct {
	Code          string             `json:"code"`
	NodeName      string             `json:"node_name"`
	State         string             `json:"state"`
	Online        bool               `json:"online"`
	Metrics       map[string]float64 `json:"metrics"`
	TotalEarnings float64            `json:"total_earnings"`
	Heartbeats    int                `json:"heartbeats"`
	LastHeartbeat int64              `json:"last_heartbeat"`
}

// fleet is the deterministic set of nodes owned by one wallet.
type fleet struct {
	mu    sync.Mutex
	rng   *rand.Rand
	nodes []Node
}

func newFleet(wallet string) *fleet {
	h := fnv.New64a()
	h.Write([]byte(wallet))
	seed := int64(h.Sum64())
	rng := rand.New(rand.NewSource(seed))

	count := 3 + rng.Intn(3)
	nodes := make([]Node, count)
	now := time.Now()
	for i := range nodes {
		status := "online"
		switch rng.Intn(6) {
		case 0:
			status = "offline"
		case 1:
			status = "pending"
		}
		nodes[i] = Node{
			ReferenceCode: fmt.Sprintf("NW-%04X-%d", uint16(seed), i+1),
			Name:          fmt.Sprintf("node-%d", i+1),
			Status:        status,
			IsConnected:   status == "online",
			Performance: Performance{
				CPUUsage:     float64(10 + rng.Intn(60)),
				MemoryUsage:  float64(20 + rng.Intn(50)),
				StorageUsage: float64(5 + rng.Intn(80)),
				CPUTotal:     float64(int(2) << rng.Intn(4)),
				MemoryTotal:  float64(int(4) << rng.Intn(4)),
				StorageTotal: float64(int(256) << rng.Intn(3)),
			},
			Earnings: Earnings{Total: math.Round(rng.Float64()*1000) / 100},
			LastSeen: now,
		}
	}
	return &fleet{rng: rng, nodes: nodes}
}

// step advances every online node by one tick.
func (f *fleet) step(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.nodes {
		n := &f.nodes[i]
		if n.Status != "online" {
			continue
		}
		n.Performance.CPUUsage = drift(f.rng, n.Performance.CPUUsage)
		n.Performance.MemoryUsage = drift(f.rng, n.Performance.MemoryUsage)
		n.Performance.BandwidthUsage = drift(f.rng, n.Performance.BandwidthUsage)
		reward := math.Round(f.rng.Float64()*10) / 1000
		n.Earnings.Total += reward
		n.Earnings.Today += reward
		n.Heartbeat.Count++
		n.LastSeen = now
	}
}

func drift(rng *rand.Rand, v float64) float64 {
	v += float64(rng.Intn(11) - 5)
	return math.Max(0, math.Min(100, v))
}

func (f *fleet) snapshot() []Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Node, len(f.nodes))
	copy(out, f.nodes)
	return out
}

func (f *fleet) owns(ref string) (Node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.nodes {
		if n.ReferenceCode == ref {
			return n, true
		}
	}
	return Node{}, false
}

func (f *fleet) rest() []restNode {
	nodes := f.snapshot()
	out := make([]restNode, len(nodes))
	for i, n := range nodes {
		out[i] = restNode{
			Code:     n.ReferenceCode,
			NodeName: n.Name,
			State:    n.Status,
			Online:   n.IsConnected,
			Metrics: map[string]float64{
				"cpu":     n.Performance.CPUUsage,
				"memory":  n.Performance.MemoryUsage,
				"disk":    n.Performance.StorageUsage,
				"network": n.Performance.BandwidthUsage,
			},
			TotalEarnings: n.Earnings.Total,
			Heartbeats:    n.Heartbeat.Count,
			LastHeartbeat: n.LastSeen.UnixMilli(),
		}
	}
	return out
}
