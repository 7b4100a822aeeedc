// Package metrics exposes mping's optional Prometheus counters, histogram,
// and status gauge (spec.md §4.8, additive to the original spec).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mping_sent_total",
		Help: "Total number of echo requests dispatched per target",
	}, []string{"target"})

	RecvTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mping_recv_total",
		Help: "Total number of echo replies received per target",
	}, []string{"target"})

	RTTSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mping_rtt_seconds",
		Help:    "Round-trip time of successful echo replies per target",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms .. ~4s
	}, []string{"target"})

	TargetStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mping_target_status",
		Help: "1 for the target's current status, 0 for every other status value",
	}, []string{"target", "status"})
)

// ObserveRTT records one successful reply's RTT, in seconds. Called directly
// from the Pinger on reply, without holding any target lock.
func ObserveRTT(target string, seconds float64) {
	RTTSeconds.WithLabelValues(target).Observe(seconds)
}

// SetStatus zeroes out every other known status for target and sets current
// to 1, mirroring a one-hot encoding of the target's classified state.
func SetStatus(target, current string, allStatuses []string) {
	for _, s := range allStatuses {
		v := 0.0
		if s == current {
			v = 1
		}
		TargetStatus.WithLabelValues(target, s).Set(v)
	}
}

// Totals tracks the last-seen sent/recv counts per target so the
// monotonic-only Counter API can be fed from Engine.SnapshotAll()'s absolute
// counts (spec.md §4.8) without double-counting on repeated refreshes.
type Totals struct {
	mu   sync.Mutex
	seen map[string][2]uint64 // target -> [sent, recv]
}

// NewTotals creates an empty Totals tracker.
func NewTotals() *Totals {
	return &Totals{seen: make(map[string][2]uint64)}
}

// Update adds the delta between sent/recv and the last values observed for
// target to the SentTotal/RecvTotal counters.
func (t *Totals) Update(target string, sent, recv uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.seen[target]
	if sent > prev[0] {
		SentTotal.WithLabelValues(target).Add(float64(sent - prev[0]))
	}
	if recv > prev[1] {
		RecvTotal.WithLabelValues(target).Add(float64(recv - prev[1]))
	}
	t.seen[target] = [2]uint64{sent, recv}
}
