package pinger

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/mping/internal/icmpclient"
	"github.com/malbeclabs/mping/internal/target"
)

// fakeClient is a scripted icmpclient.Client used to drive deterministic
// end-to-end Pinger scenarios (spec.md §8).
type fakeClient struct {
	mu      sync.Mutex
	respond func(seq uint16) (time.Duration, error)
	sendLog []uint16
}

func (f *fakeClient) SendEcho(_ context.Context, _ net.IP, _, seq uint16, _ []byte, _ time.Duration) (time.Duration, error) {
	f.mu.Lock()
	f.sendLog = append(f.sendLog, seq)
	f.mu.Unlock()
	return f.respond(seq)
}

func (f *fakeClient) Close() error { return nil }

func alwaysReplies(rtt time.Duration) func(uint16) (time.Duration, error) {
	return func(uint16) (time.Duration, error) { return rtt, nil }
}

func alwaysTimesOut() func(uint16) (time.Duration, error) {
	return func(uint16) (time.Duration, error) { return 0, icmpclient.ErrTimeout }
}

func alternating(rtt time.Duration) func(uint16) (time.Duration, error) {
	return func(seq uint16) (time.Duration, error) {
		if seq%2 == 0 {
			return rtt, nil
		}
		return 0, icmpclient.ErrTimeout
	}
}

// testInterval matches defaultTick exactly, so every Advance(testInterval)
// fires the Pinger's ticker exactly once and the loop dispatches on every
// tick — removing any dependency on how many periods a single Advance call
// catches up internally.
const testInterval = defaultTick

// advanceTicks advances the fake clock by n tick periods, yielding after
// each so the Pinger goroutine observes and processes it before the next.
func advanceTicks(clock clockwork.FakeClock, n int) {
	for i := 0; i < n; i++ {
		clock.Advance(testInterval)
		time.Sleep(time.Millisecond)
	}
}

func newTestPinger(tg *target.Target, client icmpclient.Client, clock clockwork.Clock) *Pinger {
	return New(Config{
		Target:   tg,
		Client:   client,
		Interval: testInterval,
		Timeout:  2 * testInterval,
		Size:     32,
		Clock:    clock,
	})
}

func runPinger(p *Pinger, ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	return done
}

func TestPinger_ReachableTarget_SentEqualsRecvAndMeanMatchesRTT(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	tg := target.New(net.ParseIP("10.0.0.1"), 60, 20)
	client := &fakeClient{respond: alwaysReplies(5 * time.Millisecond)}
	p := newTestPinger(tg, client, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := runPinger(p, ctx)

	advanceTicks(clock, 10)
	p.Stop()
	p.Wait()
	cancel()
	<-done

	require.Equal(t, uint64(10), tg.State.Sent())
	require.Equal(t, uint64(10), tg.State.Recv())
	require.Equal(t, target.StatusOK, tg.State.Status().Kind)

	snap := tg.State.Snapshot()
	require.True(t, snap.RTTHasStats)
	require.InDelta(t, 5000.0, snap.RTTMean, 1.0)
}

func TestPinger_AlwaysTimesOut_BecomesNotReachable(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	tg := target.New(net.ParseIP("10.0.0.2"), 60, 20)
	client := &fakeClient{respond: alwaysTimesOut()}
	p := newTestPinger(tg, client, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := runPinger(p, ctx)

	advanceTicks(clock, 11)
	p.Stop()
	p.Wait()
	cancel()
	<-done

	require.Equal(t, uint64(0), tg.State.Recv())
	require.Equal(t, target.StatusNotReachable, tg.State.Status().Kind)
}

func TestPinger_AlternatingRepliesAndTimeouts_BecomesFlappy(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	tg := target.New(net.ParseIP("10.0.0.3"), 60, 20)
	client := &fakeClient{respond: alternating(time.Millisecond)}
	p := newTestPinger(tg, client, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := runPinger(p, ctx)

	advanceTicks(clock, 20)
	p.Stop()
	p.Wait()
	cancel()
	<-done

	require.Equal(t, target.StatusFlappy, tg.State.Status().Kind)
}

func TestPinger_PauseHaltsSendingUntilResume(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	tg := target.New(net.ParseIP("10.0.0.4"), 60, 20)
	client := &fakeClient{respond: alwaysReplies(time.Millisecond)}
	p := newTestPinger(tg, client, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := runPinger(p, ctx)

	advanceTicks(clock, 5)
	sentBeforePause := tg.State.Sent()

	tg.State.Pause()
	advanceTicks(clock, 5)
	require.Equal(t, sentBeforePause, tg.State.Sent(), "sent must not advance while paused")
	require.Equal(t, target.StatusPaused, tg.State.Status().Kind)

	tg.State.Resume()
	advanceTicks(clock, 1)
	require.Greater(t, tg.State.Sent(), sentBeforePause, "first send after resume should occur within one interval")

	p.Stop()
	p.Wait()
	cancel()
	<-done
}
