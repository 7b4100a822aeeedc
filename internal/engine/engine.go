package engine

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/malbeclabs/mping/internal/icmpclient"
	"github.com/malbeclabs/mping/internal/pinger"
	"github.com/malbeclabs/mping/internal/pkthistory"
	"github.com/malbeclabs/mping/internal/target"
)

// Engine owns the target list, the shared IcmpClients, and one Pinger per
// target, and exposes a consistent snapshot API to a display loop (spec.md
// §4.6).
type Engine struct {
	cfg Config

	targets []*target.Target
	pingers []*pinger.Pinger
	clients map[icmpclient.Family]icmpclient.Client

	wg sync.WaitGroup
}

// New validates cfg, opens one IcmpClient per address family actually
// present among the targets, and constructs one Pinger per target bound to
// the matching family's client.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		clients: make(map[icmpclient.Family]icmpclient.Client),
	}

	needed := make(map[icmpclient.Family]bool)
	for _, ip := range cfg.Targets {
		needed[familyOf(ip)] = true
	}

	for family := range needed {
		client, err := cfg.ClientFactory(family)
		if err != nil {
			e.closeClients()
			if icmpclient.IsPermission(err) {
				return nil, err
			}
			return nil, fmt.Errorf("engine: open %s client: %w", family, err)
		}
		e.clients[family] = client
	}

	for _, ip := range cfg.Targets {
		tg := target.New(ip, cfg.HistSize, cfg.Detailed)
		e.targets = append(e.targets, tg)

		e.pingers = append(e.pingers, pinger.New(pinger.Config{
			Target:    tg,
			Client:    e.clients[familyOf(ip)],
			Interval:  cfg.Interval,
			Timeout:   cfg.Timeout,
			Size:      cfg.Size,
			Randomize: cfg.Randomize,
			Clock:     cfg.Clock,
			Log:       cfg.Log,
		}))
	}

	return e, nil
}

func familyOf(ip net.IP) icmpclient.Family {
	if ip.To4() != nil {
		return icmpclient.FamilyV4
	}
	return icmpclient.FamilyV6
}

// Start launches every Pinger's loop in its own goroutine; it returns
// immediately.
func (e *Engine) Start(ctx context.Context) {
	for _, p := range e.pingers {
		e.wg.Add(1)
		go func(p *pinger.Pinger) {
			defer e.wg.Done()
			p.Run(ctx)
		}(p)
	}
}

// Stop signals every Pinger to quit, waits for in-flight sends to drain,
// then closes the shared clients (spec.md §4.5 Cancellation, §8: stable
// within timeout + 200ms of quit).
func (e *Engine) Stop() {
	for _, p := range e.pingers {
		p.Stop()
	}
	// Loops exit first, so no Pinger dispatches a new send after its Wait.
	e.wg.Wait()
	for _, p := range e.pingers {
		p.Wait()
	}
	e.closeClients()
}

func (e *Engine) closeClients() {
	for _, c := range e.clients {
		c.Close()
	}
}

// Targets returns the engine's target list, in construction order. The
// display collaborator uses this to pair each snapshot with its address.
func (e *Engine) Targets() []*target.Target { return e.targets }

// StatsSnapshot is the immutable, point-in-time view of one target produced
// by SnapshotAll (spec.md §4.6).
type StatsSnapshot struct {
	Sent   uint64
	Recv   uint64
	Status target.Status
	Paused bool

	Mean     float64
	Min, Max uint32
	HasStats bool
	Stdev    float64
	HasStdev bool
	Last     uint32
	HasLast  bool

	History HistorySnapshot
}

// HistorySnapshot summarizes the target's short packet history (spec.md
// §4.6): sequence bounds, a coarse gap flag, whether the last two records
// arrived out of sequence order, and recent/aggregate loss.
type HistorySnapshot struct {
	Count          int
	StartSeq       uint16
	EndSeq         uint16
	HasGap         bool
	OutOfOrder     bool
	RecentLosses   int
	LossFraction   float64
	Mean, Min, Max time.Duration
	HasRTT         bool
}

// SnapshotAll builds one StatsSnapshot per target. Each target's read lock is
// held only long enough to copy primitives and compute the cheap derived
// RollingStats values; string formatting is left to the display
// collaborator, entirely outside any lock (spec.md §4.6). Snapshots are
// independent: no cross-target consistency is implied or required.
func (e *Engine) SnapshotAll() []StatsSnapshot {
	out := make([]StatsSnapshot, len(e.targets))
	for i, tg := range e.targets {
		raw := tg.State.Snapshot()
		out[i] = StatsSnapshot{
			Sent:     raw.Sent,
			Recv:     raw.Recv,
			Status:   raw.Status,
			Paused:   raw.Paused,
			Mean:     raw.RTTMean,
			Min:      raw.RTTMin,
			Max:      raw.RTTMax,
			HasStats: raw.RTTHasStats,
			Stdev:    raw.RTTStdev,
			HasStdev: raw.RTTHasStdev,
			Last:     raw.RTTLast,
			HasLast:  raw.RTTHasLast,
			History:  historySnapshotFrom(raw.Records),
		}
	}
	return out
}

// historySnapshotFrom derives the HistorySnapshot fields from the already
// copied, lock-free Records slice (spec.md §4.6; gap/out-of-order semantics
// are this package's own design decision, see DESIGN.md).
func historySnapshotFrom(records []pkthistory.Record) HistorySnapshot {
	var hs HistorySnapshot
	n := len(records)
	hs.Count = n
	if n == 0 {
		return hs
	}

	hs.StartSeq = records[0].Seq
	hs.EndSeq = records[n-1].Seq

	const tailWindow = 10
	start := n - tailWindow
	if start < 0 {
		start = 0
	}
	tail := records[start:]

	var lost int
	for _, r := range tail {
		if r.RTT == nil {
			lost++
		}
	}
	hs.RecentLosses = lost

	var totalLost int
	var sum time.Duration
	var have bool
	for _, r := range records {
		if r.RTT == nil {
			totalLost++
			continue
		}
		if !have || *r.RTT < hs.Min {
			hs.Min = *r.RTT
		}
		if !have || *r.RTT > hs.Max {
			hs.Max = *r.RTT
		}
		sum += *r.RTT
		have = true
	}
	hs.HasRTT = have
	if have {
		hs.Mean = sum / time.Duration(n-totalLost)
	}
	hs.LossFraction = float64(totalLost) / float64(n)

	// A gap is any jump in sequence number other than +1 (mod 65536) between
	// adjacent records in the tail window; a single dropped ping or a target
	// restart both surface here, which is the point: it is a coarse "something
	// discontinuous happened recently" flag, not a precise loss count.
	for i := 1; i < len(tail); i++ {
		if tail[i].Seq != tail[i-1].Seq+1 {
			hs.HasGap = true
			break
		}
	}

	if n >= 2 {
		last, prev := records[n-1], records[n-2]
		hs.OutOfOrder = last.SentAt.Before(prev.SentAt)
	}

	return hs
}
