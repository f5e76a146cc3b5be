package main

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type OperationMetrics struct {
	Total     atomic.Int64
	Success   atomic.Int64
	Conflict  atomic.Int64
	Error     atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	om.Total.Add(1)
	switch {
	case success:
		om.Success.Add(1)
	case conflict:
		om.Conflict.Add(1)
	default:
		om.Error.Add(1)
	}
	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

type LatencyStats struct {
	Avg, Min, Max, P50, P95 time.Duration
}

func (om *OperationMetrics) Stats() LatencyStats {
	om.mu.Lock()
	latencies := slices.Clone(om.latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return LatencyStats{}
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}
	return LatencyStats{
		Avg: sum / time.Duration(len(latencies)),
		Min: latencies[0],
		Max: latencies[len(latencies)-1],
		P50: pct(50),
		P95: pct(95),
	}
}

func (om *OperationMetrics) Report(w io.Writer, name string) {
	total := om.Total.Load()
	if total == 0 {
		return
	}
	percent := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	st := om.Stats()

	fmt.Fprintf(w, "%s:\n", name)
	fmt.Fprintf(w, "  Total: %d\n", total)
	fmt.Fprintf(w, "  Success: %d (%.1f%%)\n", om.Success.Load(), percent(om.Success.Load()))
	if c := om.Conflict.Load(); c > 0 {
		fmt.Fprintf(w, "  Conflicts: %d (%.1f%%)\n", c, percent(c))
	}
	if e := om.Error.Load(); e > 0 {
		fmt.Fprintf(w, "  Errors: %d (%.1f%%)\n", e, percent(e))
	}
	fmt.Fprintf(w, "  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n\n",
		st.Avg.Round(time.Millisecond), st.Min.Round(time.Millisecond), st.Max.Round(time.Millisecond),
		st.P50.Round(time.Millisecond), st.P95.Round(time.Millisecond))
}

// ContentionMetrics counts slot races. A round with more than one winner is
// a double booking observed from the client side.
type ContentionMetrics struct {
	Rounds      atomic.Int64
	Won         atomic.Int64
	AlreadyGone atomic.Int64
	Violations  atomic.Int64
}

func (cm *ContentionMetrics) RecordRound(winners int) {
	cm.Rounds.Add(1)
	switch {
	case winners == 1:
		cm.Won.Add(1)
	case winners == 0:
		cm.AlreadyGone.Add(1)
	default:
		cm.Violations.Add(1)
	}
}
