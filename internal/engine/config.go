package engine

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/mping/internal/icmpclient"
)

const (
	minInterval = 10 * time.Millisecond
	maxInterval = 10 * time.Second
	minTimeout  = 10 * time.Millisecond
	maxTimeout  = 5 * time.Second

	minHistSize = 3 // RollingStats itself also clamps to >= 3
	minDetailed = 1
)

// ClientFactory builds the shared IcmpClient for an address family; tests
// substitute a factory that returns a fake client instead of opening a raw
// socket.
type ClientFactory func(icmpclient.Family) (icmpclient.Client, error)

// Config provides all dependencies and tunables for an Engine. Targets must
// already be expanded to literal addresses (CIDR/range expansion is a
// collaborator concern, spec.md §1).
type Config struct {
	Targets   []net.IP
	Interval  time.Duration
	Timeout   time.Duration
	Size      int
	Randomize bool
	HistSize  int
	Detailed  int

	ClientFactory ClientFactory   // optional; defaults to real raw sockets
	Clock         clockwork.Clock // optional; defaults to the real clock
	Log           *slog.Logger    // optional; defaults to slog.Default()
}

// Validate checks required fields and applies the interval/timeout clamps
// (spec.md §4.6, §6), logging at Info level whenever a clamp actually
// changes the value (spec.md §9 Open Question (a)).
func (cfg *Config) Validate() error {
	if len(cfg.Targets) == 0 {
		return errors.New("engine: at least one target is required")
	}
	if cfg.Interval <= 0 {
		return errors.New("engine: interval must be > 0")
	}
	if cfg.Timeout <= 0 {
		return errors.New("engine: timeout must be > 0")
	}
	if cfg.Size < 0 {
		return errors.New("engine: size must be >= 0")
	}
	if cfg.HistSize < minHistSize {
		cfg.HistSize = minHistSize
	}
	if cfg.Detailed < minDetailed {
		cfg.Detailed = minDetailed
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.ClientFactory == nil {
		cfg.ClientFactory = icmpclient.New
	}

	clamped := cfg.Interval
	if clamped < minInterval {
		clamped = minInterval
	} else if clamped > maxInterval {
		clamped = maxInterval
	}
	if clamped != cfg.Interval {
		cfg.Log.Info("engine: clamped interval", "requested", cfg.Interval, "used", clamped)
		cfg.Interval = clamped
	}

	clamped = cfg.Timeout
	if clamped < minTimeout {
		clamped = minTimeout
	} else if clamped > maxTimeout {
		clamped = maxTimeout
	}
	if clamped != cfg.Timeout {
		cfg.Log.Info("engine: clamped timeout", "requested", cfg.Timeout, "used", clamped)
		cfg.Timeout = clamped
	}

	// In-flight cap: no more than ~4 outstanding pings per target.
	limit := cfg.Interval * 4
	if cfg.Timeout > limit {
		cfg.Log.Info("engine: reduced timeout to bound concurrent pings",
			"requested", cfg.Timeout, "used", limit, "interval", cfg.Interval)
		cfg.Timeout = limit
	}

	return nil
}
