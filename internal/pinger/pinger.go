// Package pinger runs the per-target cooperative ping loop: a steady tick
// dispatches echo requests through a shared IcmpClient and feeds the results
// back into the target's classified state.
package pinger

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/mping/internal/icmpclient"
	"github.com/malbeclabs/mping/internal/metrics"
	"github.com/malbeclabs/mping/internal/target"
)

// seedSeq perturbs per-Pinger RNG seeds so Pingers constructed within the
// same clock tick still get distinct echo identifiers.
var seedSeq atomic.Int64

// defaultTick is the maximum tick period regardless of interval, bounding
// both pause-recovery latency and shutdown latency (spec.md §4.5, §5).
const defaultTick = 200 * time.Millisecond

// Config configures one Pinger. Interval and Timeout are assumed already
// clamped by the caller (the Engine owns that policy, spec.md §4.6).
type Config struct {
	Target    *target.Target
	Client    icmpclient.Client
	Interval  time.Duration
	Timeout   time.Duration
	Size      int
	Randomize bool
	Clock     clockwork.Clock
	Log       *slog.Logger
}

// Pinger drives one target's send/receive cadence as a long-lived loop.
type Pinger struct {
	target    *target.Target
	client    icmpclient.Client
	interval  time.Duration
	timeout   time.Duration
	randomize bool
	clock     clockwork.Clock
	log       *slog.Logger

	id      uint16
	payload []byte // task-local; mutated in place before each send when randomize is set
	rng     *rand.Rand

	quit atomic.Bool
	wg   sync.WaitGroup
}

// New constructs a Pinger. It does not start the loop; call Run.
func New(cfg Config) *Pinger {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ seedSeq.Add(1)))
	return &Pinger{
		target:    cfg.Target,
		client:    cfg.Client,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		randomize: cfg.Randomize,
		clock:     clock,
		log:       log,
		id:        uint16(rng.Intn(1 << 16)),
		payload:   make([]byte, cfg.Size),
		rng:       rng,
	}
}

// Stop sets the cooperative quit flag; Run exits within one tick and already
// dispatched sends are allowed to finish (spec.md §4.5 Cancellation).
func (p *Pinger) Stop() { p.quit.Store(true) }

// Wait blocks until all in-flight sends this Pinger dispatched return. It does
// not wait for Run itself to exit.
func (p *Pinger) Wait() { p.wg.Wait() }

// Run is the tick loop; it blocks until Stop is called or ctx is canceled.
func (p *Pinger) Run(ctx context.Context) {
	period := p.interval
	if period > defaultTick {
		period = defaultTick
	}
	ticker := p.clock.NewTicker(period)
	defer ticker.Stop()

	nextPingAt := p.clock.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		if p.quit.Load() {
			return
		}

		now := p.clock.Now()

		if p.target.State.Paused() {
			nextPingAt = now
			continue
		}

		if now.Before(nextPingAt) {
			continue
		}

		p.dispatch(ctx, now)
		nextPingAt = nextPingAt.Add(p.interval)
	}
}

// dispatch records a new send under the target's lock, then launches a
// detached goroutine that awaits the echo result and applies it.
func (p *Pinger) dispatch(ctx context.Context, now time.Time) {
	seq := p.target.State.BeginSend(now)

	if p.randomize {
		n := len(p.payload)
		if n > 32 {
			n = 32
		}
		p.rng.Read(p.payload[:n])
	}
	payload := p.payload
	if p.randomize {
		// Copy-on-write: the in-flight send gets its own snapshot so the next
		// tick can mutate p.payload again without racing this goroutine.
		payload = make([]byte, len(p.payload))
		copy(payload, p.payload)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sendAndRecord(ctx, seq, now, payload)
	}()
}

func (p *Pinger) sendAndRecord(ctx context.Context, seq uint16, sentAt time.Time, payload []byte) {
	rtt, err := p.client.SendEcho(ctx, p.target.IP, p.id, seq, payload, p.timeout)

	var outcome target.Outcome
	switch {
	case err == nil:
		outcome = target.Outcome{Kind: target.OutcomeReply, RTT: rtt}
		metrics.ObserveRTT(p.target.IP.String(), rtt.Seconds())
	case errors.Is(err, icmpclient.ErrTimeout):
		outcome = target.Outcome{Kind: target.OutcomeTimeout}
	default:
		outcome = target.Outcome{Kind: target.OutcomeError, Err: err}
	}

	p.target.State.RecordResult(seq, sentAt, outcome)
}
