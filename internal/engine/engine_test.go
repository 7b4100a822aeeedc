package engine

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

// fakeClient is a scripted icmpclient.Client; one instance is shared across
// every target of a given family, mirroring the real client's fan-in.
type fakeClient struct {
	mu      sync.Mutex
	respond func(dst net.IP, seq uint16) (time.Duration, error)
	closed  bool
}

func (f *fakeClient) SendEcho(_ context.Context, dst net.IP, _, seq uint16, _ []byte, _ time.Duration) (time.Duration, error) {
	return f.respond(dst, seq)
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func alwaysReplies(rtt time.Duration) func(net.IP, uint16) (time.Duration, error) {
	return func(net.IP, uint16) (time.Duration, error) { return rtt, nil }
}

const testInterval = 200 * time.Millisecond // matches pinger.defaultTick

func advanceTicks(clock clockwork.FakeClock, n int) {
	for i := 0; i < n; i++ {
		clock.Advance(testInterval)
		time.Sleep(time.Millisecond)
	}
}

func newTestEngine(t *testing.T, clock clockwork.Clock, v4 *fakeClient, v6 *fakeClient) *Engine {
	t.Helper()
	cfg := Config{
		Targets:  []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), net.ParseIP("2001:db8::1")},
		Interval: testInterval,
		Timeout:  2 * testInterval,
		Size:     16,
		HistSize: 30,
		Detailed: 20,
		Clock:    clock,
		ClientFactory: func(family icmpclient.Family) (icmpclient.Client, error) {
			if family == icmpclient.FamilyV6 {
				return v6, nil
			}
			return v4, nil
		},
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestEngine_New_SharesOneClientPerFamily(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	v4 := &fakeClient{respond: alwaysReplies(time.Millisecond)}
	v6 := &fakeClient{respond: alwaysReplies(time.Millisecond)}
	e := newTestEngine(t, clock, v4, v6)

	require.Len(t, e.targets, 3)
	require.Len(t, e.clients, 2)
}

func TestEngine_StartStop_DrainsWithinBoundedTime(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	v4 := &fakeClient{respond: alwaysReplies(time.Millisecond)}
	v6 := &fakeClient{respond: alwaysReplies(time.Millisecond)}
	e := newTestEngine(t, clock, v4, v6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	advanceTicks(clock, 5)

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return within a bounded time")
	}

	require.True(t, v4.isClosed())
	require.True(t, v6.isClosed())
}

func TestEngine_SnapshotAll_ReflectsDispatchedPings(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	v4 := &fakeClient{respond: alwaysReplies(5 * time.Millisecond)}
	v6 := &fakeClient{respond: alwaysReplies(5 * time.Millisecond)}
	e := newTestEngine(t, clock, v4, v6)

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	advanceTicks(clock, 10)
	e.Stop()
	cancel()

	snaps := e.SnapshotAll()
	require.Len(t, snaps, 3)
	for _, s := range snaps {
		require.Equal(t, uint64(10), s.Sent)
		require.Equal(t, uint64(10), s.Recv)
		require.Equal(t, target.StatusOK, s.Status.Kind)
		require.True(t, s.HasStats)
		require.InDelta(t, 5000.0, s.Mean, 1.0)
		require.Equal(t, 10, s.History.Count)
		require.False(t, s.History.HasGap)
		require.False(t, s.History.OutOfOrder)
		require.Equal(t, 0, s.History.RecentLosses)
	}
}

func TestEngine_New_PropagatesClientFactoryError(t *testing.T) {
	t.Parallel()

	boom := &icmpclient.PermissionError{}
	cfg := Config{
		Targets:  []net.IP{net.ParseIP("10.0.0.1")},
		Interval: testInterval,
		Timeout:  2 * testInterval,
		ClientFactory: func(icmpclient.Family) (icmpclient.Client, error) {
			return nil, boom
		},
	}
	_, err := New(cfg)
	require.Error(t, err)
	require.True(t, icmpclient.IsPermission(err))
}
