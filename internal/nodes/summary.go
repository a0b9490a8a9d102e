package nodes

import (
	"math"

	"nodewatch/internal/types"
)

// Summarize aggregates records. Resource averages cover active nodes only.
func Summarize(records []types.NodeRecord) types.AggregateStats {
	stats := types.AggregateStats{Total: len(records)}

	var cpu, mem, storage, bw float64
	for _, r := range records {
		stats.TotalEarnings += r.Earnings.Total
		switch {
		case r.IsActive():
			stats.Active++
			cpu += float64(r.Resources.CPU.Usage)
			mem += float64(r.Resources.Memory.Usage)
			storage += float64(r.Resources.Storage.Usage)
			bw += float64(r.Resources.Bandwidth.Usage)
		case r.Status == types.NodePending:
			stats.Pending++
		default:
			stats.Offline++
		}
	}

	if stats.Active > 0 {
		n := float64(stats.Active)
		stats.AvgCPU = round1(cpu / n)
		stats.AvgMemory = round1(mem / n)
		stats.AvgStorage = round1(storage / n)
		stats.AvgBandwidth = round1(bw / n)
	}
	stats.TotalEarnings = math.Round(stats.TotalEarnings*1e6) / 1e6
	return stats
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Merge returns next with the consumer view flags of matching records in
// prev carried over. Every other field comes from next.
func Merge(prev, next []types.NodeRecord) []types.NodeRecord {
	flags := make(map[string]types.NodeRecord, len(prev))
	for _, r := range prev {
		flags[r.ReferenceCode] = r
	}

	out := make([]types.NodeRecord, len(next))
	for i, r := range next {
		if old, ok := flags[r.ReferenceCode]; ok {
			r.Selected = old.Selected
			r.Expanded = old.Expanded
		}
		out[i] = r
	}
	return out
}
