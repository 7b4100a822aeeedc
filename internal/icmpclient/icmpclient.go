// Package icmpclient implements a raw ICMP echo sender/receiver shared
// across many concurrent callers of one address family, demultiplexing
// replies by echo identifier and sequence number.
package icmpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Family selects the IP address family a Client serves.
type Family uint8

const (
	FamilyV4 Family = iota
	FamilyV6
)

func (f Family) String() string {
	if f == FamilyV6 {
		return "ipv6"
	}
	return "ipv4"
}

// ErrTimeout is returned by SendEcho when no matching reply arrives before
// the deadline.
var ErrTimeout = errors.New("icmpclient: timeout")

// ErrClosed is returned by SendEcho on a closed client.
var ErrClosed = errors.New("icmpclient: client closed")

// PermissionError wraps a socket-construction failure that looks like an
// elevated-privilege requirement (spec.md §6/§7); cmd/mping inspects it with
// AsPermission to decide whether to print remediation text.
type PermissionError struct {
	Family Family
	err    error
}

func (e *PermissionError) Error() string { return e.err.Error() }
func (e *PermissionError) Unwrap() error { return e.err }

// IsPermission reports whether err (or a wrapped cause) is a PermissionError.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// AsPermission extracts the *PermissionError from err, if any.
func AsPermission(err error) (*PermissionError, bool) {
	var pe *PermissionError
	ok := errors.As(err, &pe)
	return pe, ok
}

func looksLikePermissionDenied(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "permission") || strings.Contains(s, "not permitted") || strings.Contains(s, "operation not permitted")
}

// Client is the contract a Pinger uses to exchange one echo request/reply.
// Implementations must be safe for concurrent use by many callers.
type Client interface {
	SendEcho(ctx context.Context, dst net.IP, id, seq uint16, payload []byte, timeout time.Duration) (time.Duration, error)
	Close() error
}

type pendingReply struct {
	rtt time.Duration
	err error
}

// pendingCall is one in-flight SendEcho, keyed by (id, seq); sentAt lets the
// read loop compute RTT when the matching reply arrives.
type pendingCall struct {
	ch     chan pendingReply
	sentAt time.Time
}

// rawClient owns one raw ICMP socket for a single address family, shared
// across all of that family's Pingers (spec.md §4.4).
type rawClient struct {
	family Family
	conn   *icmp.PacketConn

	mu      sync.Mutex
	pending map[uint32]*pendingCall
	closed  bool
}

// New opens a raw ICMP socket for the given family. A permission failure is
// wrapped in *PermissionError so callers can render remediation text.
func New(family Family) (Client, error) {
	network, bindAddr := "ip4:icmp", "0.0.0.0"
	if family == FamilyV6 {
		network, bindAddr = "ip6:ipv6-icmp", "::"
	}

	conn, err := icmp.ListenPacket(network, bindAddr)
	if err != nil {
		if looksLikePermissionDenied(err) {
			return nil, &PermissionError{Family: family, err: err}
		}
		return nil, fmt.Errorf("icmpclient: open %s socket: %w", family, err)
	}

	c := &rawClient{
		family:  family,
		conn:    conn,
		pending: make(map[uint32]*pendingCall),
	}
	go c.readLoop()
	return c, nil
}

func pendingKey(id, seq uint16) uint32 { return uint32(id)<<16 | uint32(seq) }

// SendEcho transmits one echo request and blocks until the matching reply
// arrives, timeout elapses, or ctx is canceled.
func (c *rawClient) SendEcho(ctx context.Context, dst net.IP, id, seq uint16, payload []byte, timeout time.Duration) (time.Duration, error) {
	msgType := icmp.Type(ipv4.ICMPTypeEcho)
	if c.family == FamilyV6 {
		msgType = ipv6.ICMPTypeEchoRequest
	}

	wb, err := (&icmp.Message{
		Type: msgType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(id),
			Seq:  int(seq),
			Data: payload,
		},
	}).Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("icmpclient: marshal echo request: %w", err)
	}

	key := pendingKey(id, seq)
	call := &pendingCall{ch: make(chan pendingReply, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	c.pending[key] = call
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	call.sentAt = time.Now()
	if _, err := c.conn.WriteTo(wb, &net.IPAddr{IP: dst}); err != nil {
		return 0, fmt.Errorf("icmpclient: write echo request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-call.ch:
		if r.err != nil {
			return 0, r.err
		}
		return r.rtt, nil
	case <-timer.C:
		return 0, ErrTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// readLoop continuously drains the socket and dispatches replies to whatever
// SendEcho call is waiting on the matching (id, seq) key. Unmatched packets
// (foreign traffic, stray replies for a call that already timed out) are
// dropped silently.
func (c *rawClient) readLoop() {
	buf := make([]byte, 1500)
	proto := 1 // ICMPv4 protocol number
	if c.family == FamilyV6 {
		proto = 58 // ICMPv6 protocol number
	}

	// Backs off between consecutive read errors so a wedged socket doesn't
	// spin the goroutine hot; resets on every successful read.
	retry := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(10*time.Millisecond),
		backoff.WithMultiplier(2.0),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(0),
	)

	for {
		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			time.Sleep(retry.NextBackOff())
			continue
		}
		retry.Reset()
		recvAt := time.Now()

		msg, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil {
			continue
		}

		echo, ok := msg.Body.(*icmp.Echo)
		if !ok {
			continue
		}
		isReply := (c.family == FamilyV4 && msg.Type == ipv4.ICMPTypeEchoReply) ||
			(c.family == FamilyV6 && msg.Type == ipv6.ICMPTypeEchoReply)
		if !isReply {
			continue
		}

		key := pendingKey(uint16(echo.ID), uint16(echo.Seq))
		c.mu.Lock()
		call, ok := c.pending[key]
		c.mu.Unlock()
		if !ok {
			continue
		}

		select {
		case call.ch <- pendingReply{rtt: recvAt.Sub(call.sentAt)}:
		default:
		}
	}
}

// Close shuts down the socket. SendEcho calls made after Close return
// ErrClosed; calls already waiting for a reply return when their timeout
// elapses or their context is canceled.
func (c *rawClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
