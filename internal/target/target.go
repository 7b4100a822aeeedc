// Package target holds per-target mutable ping state: counters, the RTT
// rolling window, the short packet history, and the classified status, all
// guarded by a per-target read-write lock.
package target

import (
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/malbeclabs/mping/internal/pkthistory"
	"github.com/malbeclabs/mping/internal/rollingstats"
)

// classifier thresholds (spec.md §4.3); hard-coded by design (§9 open
// question (b) — left non-configurable).
const (
	lossyWindow   = 5
	lossyFraction = 0.5
	flappyWindow  = 10
	flappyCount   = 5
	laggyWindow   = 10
	laggyFactor   = 2.0
)

// OutcomeKind classifies the result of a single dispatched ping.
type OutcomeKind uint8

const (
	OutcomeReply OutcomeKind = iota
	OutcomeTimeout
	OutcomeError
)

// Outcome is what a Pinger reports back for one dispatched echo.
type Outcome struct {
	Kind OutcomeKind
	RTT  time.Duration // valid when Kind == OutcomeReply
	Err  error         // valid when Kind == OutcomeError
}

// TargetState is the mutable record behind a Target. All fields except
// paused are guarded by mu; paused is atomic so pingers can check it without
// locking (spec.md §3, §9).
type TargetState struct {
	mu sync.RWMutex

	sent       uint64
	recv       uint64
	lastSeq    uint16
	lastSentAt time.Time

	rtts   *rollingstats.RollingStats
	recent *pkthistory.History
	status Status

	paused atomic.Bool
}

// Target is an immutable IP address bound to a mutable TargetState. Owned by
// the Engine, shared read-mostly with one Pinger and with snapshot readers.
type Target struct {
	IP    net.IP
	State *TargetState
}

// New creates a Target with a fresh, empty state. histsize is the RollingStats
// capacity (clamped to >= 3 internally); detailed is the PacketHistory capacity.
func New(ip net.IP, histsize, detailed int) *Target {
	return &Target{
		IP: ip,
		State: &TargetState{
			rtts:   rollingstats.New(histsize),
			recent: pkthistory.New(detailed),
			status: Status{Kind: StatusNone},
		},
	}
}

// BeginSend records a new dispatch: it computes the next sequence number from
// the pre-increment sent counter, increments sent, and stores last_seq /
// last_sent_at, all under the write lock (spec.md §4.5 step 4).
func (ts *TargetState) BeginSend(now time.Time) uint16 {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	seq := uint16(ts.sent % 65536)
	ts.sent++
	ts.lastSeq = seq
	ts.lastSentAt = now
	return seq
}

// Sent returns the number of pings dispatched so far.
func (ts *TargetState) Sent() uint64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.sent
}

// Recv returns the number of replies received so far.
func (ts *TargetState) Recv() uint64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.recv
}

// Status returns the current classified status.
func (ts *TargetState) Status() Status {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.status
}

// Paused reports the paused flag without acquiring the lock.
func (ts *TargetState) Paused() bool { return ts.paused.Load() }

// Pause sets the paused flag and immediately reflects it in status, so a
// pause is visible to readers even if no ping happens to be in flight
// (spec.md §4.7: paused overrides all other statuses while set).
func (ts *TargetState) Pause() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.paused.Store(true)
	ts.status = Status{Kind: StatusPaused}
}

// Resume clears the paused flag; the next RecordResult call re-evaluates
// status from the latest ping outcome and classifier cascade.
func (ts *TargetState) Resume() { ts.paused.Store(false) }

// RecordResult applies the outcome of a previously dispatched ping
// (identified by seq/sentAt) to the target's counters, window, and history,
// then re-evaluates status, mirroring update_stats (spec.md §4.5).
func (ts *TargetState) RecordResult(seq uint16, sentAt time.Time, outcome Outcome) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	rec := pkthistory.Record{Seq: seq, SentAt: sentAt}

	switch outcome.Kind {
	case OutcomeReply:
		ts.recv++
		ts.rtts.Push(clampMicroseconds(outcome.RTT))
		ts.status = Status{Kind: StatusOK}
		rtt := outcome.RTT
		rec.RTT = &rtt

	case OutcomeTimeout:
		if ts.sent > 10 && ts.recv == 0 {
			ts.status = Status{Kind: StatusNotReachable}
		} else {
			ts.status = Status{Kind: StatusTimeout}
		}

	case OutcomeError:
		ts.status = Status{Kind: StatusError, Err: outcome.Err}
	}

	ts.recent.Push(rec)

	if ts.paused.Load() {
		ts.status = Status{Kind: StatusPaused}
	} else if ts.status.classifierEligible() {
		ts.status = classify(ts.status, ts.rtts, ts.recent)
	}
}

// classify runs the Flappy -> Lossy -> Laggy cascade; the first match wins.
// A classifier that cannot be evaluated (insufficient data) is treated as
// not matching. base is the pre-classification status (Ok or Timeout); the
// cascade only demotes, so an unmatched timeout stays a timeout rather than
// being promoted to Ok (spec.md §7, §4.7).
func classify(base Status, rtts *rollingstats.RollingStats, recent *pkthistory.History) Status {
	if recent.RecentTransitions(flappyWindow) >= flappyCount {
		return Status{Kind: StatusFlappy}
	}

	if float64(recent.RecentLosses(lossyWindow))/float64(lossyWindow) >= lossyFraction {
		return Status{Kind: StatusLossy}
	}

	n := laggyWindow
	recentMean, err := recent.Mean(&n)
	overallMean, _, _, err2 := rtts.MeanMinMax()
	if err == nil && err2 == nil {
		recentMeanUs := float64(recentMean) / float64(time.Microsecond)
		if recentMeanUs > overallMean*laggyFactor {
			return Status{Kind: StatusLaggy}
		}
	}

	return base
}

// clampMicroseconds converts an RTT to the unsigned microsecond samples
// RollingStats stores, clamping rather than overflowing on absurd values.
func clampMicroseconds(d time.Duration) uint32 {
	us := d.Microseconds()
	if us < 0 {
		return 0
	}
	if us > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(us)
}

// RawSnapshot is a point-in-time copy of a target's state, taken under a
// brief read lock. Callers format it into display strings outside the
// critical section (spec.md §4.6).
type RawSnapshot struct {
	Sent       uint64
	Recv       uint64
	LastSeq    uint16
	LastSentAt time.Time
	Status     Status
	Paused     bool

	RTTLen      int
	RTTCap      int
	RTTMean     float64
	RTTMin      uint32
	RTTMax      uint32
	RTTHasStats bool
	RTTStdev    float64
	RTTHasStdev bool
	RTTLast     uint32
	RTTHasLast  bool

	Records []pkthistory.Record
}

// Snapshot copies the current state under a read lock and releases it before
// returning; the derived RollingStats values are cheap (O(1)/O(cap)) so they
// are computed inside the same critical section.
func (ts *TargetState) Snapshot() RawSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	mean, min, max, errMM := ts.rtts.MeanMinMax()
	stdev, errStdev := ts.rtts.Stdev()
	last, errLast := ts.rtts.Last()

	records := make([]pkthistory.Record, ts.recent.Len())
	for i := range records {
		r, _ := ts.recent.At(i)
		records[i] = r
	}

	return RawSnapshot{
		Sent:        ts.sent,
		Recv:        ts.recv,
		LastSeq:     ts.lastSeq,
		LastSentAt:  ts.lastSentAt,
		Status:      ts.status,
		Paused:      ts.paused.Load(),
		RTTLen:      ts.rtts.Len(),
		RTTCap:      ts.rtts.Cap(),
		RTTMean:     mean,
		RTTMin:      min,
		RTTMax:      max,
		RTTHasStats: errMM == nil,
		RTTStdev:    stdev,
		RTTHasStdev: errStdev == nil,
		RTTLast:     last,
		RTTHasLast:  errLast == nil,
		Records:     records,
	}
}
