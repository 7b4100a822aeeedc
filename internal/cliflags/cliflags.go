// Package cliflags defines and validates mping's command-line flag surface
// (spec.md §6), independent of cobra: mping is a single invocation, not a
// command tree, so a flat pflag.FlagSet is the teacher's simplest fit.
package cliflags

import (
	"fmt"
	"time"

	flag "github.com/spf13/pflag"
)

const (
	defaultInterval = 1.0
	defaultTimeout  = 2.0
	defaultSize     = 32
	defaultHistSize = 3600
	defaultDetailed = 100
	defaultRefresh  = 250

	minSize, maxSize           = 32, 32759
	minHistSize, maxHistSize   = 60, 65535
	minDetailed, maxDetailed   = 10, 999
	minRefreshMs, maxRefreshMs = 100, 4999
)

// Flags holds the parsed, range-checked command-line surface. Interval and
// Timeout are converted to time.Duration here but clamped by
// internal/engine, which owns the interval/timeout policy (spec.md §4.6,
// §9 open question (a)).
type Flags struct {
	TargetSpecs []string
	Exclude     []string

	Interval time.Duration
	Timeout  time.Duration
	Size     int
	Randomize bool
	HistSize int
	Detailed int
	Refresh  time.Duration

	Verbose bool
	Debug   bool

	MetricsAddr string
}

// Parse builds a FlagSet over args (normally os.Args[1:]), checks the ranges
// spec.md §6 assigns to this layer, and returns the result. Out-of-range
// values are rejected with an error, not clamped.
func Parse(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("mping", flag.ContinueOnError)

	intervalSecs := fs.Float64P("interval", "I", defaultInterval, "interval between pings, in seconds")
	timeoutSecs := fs.Float64P("timeout", "T", defaultTimeout, "per-ping timeout, in seconds")
	size := fs.IntP("size", "s", defaultSize, "ICMP payload size in bytes, excluding the 8-byte header")
	randomize := fs.BoolP("randomize", "R", false, "randomize the first 32 bytes of the payload on each send")
	histsize := fs.IntP("histsize", "H", defaultHistSize, "rolling RTT window capacity")
	detailed := fs.Int("detailed", defaultDetailed, "short packet history capacity")
	refreshMs := fs.Int64("refresh", defaultRefresh, "display refresh interval, in milliseconds")
	exclude := fs.StringSlice("exclude", nil, "comma-separated target specs to exclude")
	verbose := fs.BoolP("verbose", "v", false, "verbose logging")
	debug := fs.Bool("debug", false, "debug logging")
	metricsAddr := fs.String("metrics-addr", "", "address to serve /metrics on (empty disables)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	targets := fs.Args()
	if len(targets) == 0 {
		return nil, fmt.Errorf("cliflags: at least one target spec is required")
	}

	if *size < minSize || *size > maxSize {
		return nil, fmt.Errorf("cliflags: --size must be in [%d, %d], got %d", minSize, maxSize, *size)
	}
	if *histsize < minHistSize || *histsize > maxHistSize {
		return nil, fmt.Errorf("cliflags: --histsize must be in [%d, %d], got %d", minHistSize, maxHistSize, *histsize)
	}
	if *detailed < minDetailed || *detailed > maxDetailed {
		return nil, fmt.Errorf("cliflags: --detailed must be in [%d, %d], got %d", minDetailed, maxDetailed, *detailed)
	}
	if *refreshMs < minRefreshMs || *refreshMs > maxRefreshMs {
		return nil, fmt.Errorf("cliflags: --refresh must be in [%d, %d] ms, got %d", minRefreshMs, maxRefreshMs, *refreshMs)
	}
	if *intervalSecs <= 0 {
		return nil, fmt.Errorf("cliflags: --interval must be > 0, got %f", *intervalSecs)
	}
	if *timeoutSecs <= 0 {
		return nil, fmt.Errorf("cliflags: --timeout must be > 0, got %f", *timeoutSecs)
	}

	return &Flags{
		TargetSpecs: targets,
		Exclude:     *exclude,
		Interval:    secondsToDuration(*intervalSecs),
		Timeout:     secondsToDuration(*timeoutSecs),
		Size:        *size,
		Randomize:   *randomize,
		HistSize:    *histsize,
		Detailed:    *detailed,
		Refresh:     time.Duration(*refreshMs) * time.Millisecond,
		Verbose:     *verbose,
		Debug:       *debug,
		MetricsAddr: *metricsAddr,
	}, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
