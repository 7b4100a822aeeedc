// Package display renders periodic snapshots from an Engine as a full-screen
// terminal table (spec.md §4.10, collaborator, trivial by design).
package display

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/jonboulle/clockwork"
	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/mping/internal/engine"
	"github.com/malbeclabs/mping/internal/metrics"
	"github.com/malbeclabs/mping/internal/target"
)

// clearHome repaints the screen: cursor to (1,1), then clear to end of
// screen, instead of a full curses/termbox event loop (spec.md §4.10).
const clearHome = "\x1b[H\x1b[J"

// allStatuses lists every status string metrics.SetStatus needs to zero out
// the ones that aren't current (spec.md §4.8 one-hot gauge).
var allStatuses = []string{
	target.StatusOK.String(),
	target.StatusTimeout.String(),
	target.StatusNotReachable.String(),
	target.StatusError.String(),
	target.StatusLossy.String(),
	target.StatusLaggy.String(),
	target.StatusFlappy.String(),
	target.StatusPaused.String(),
}

// Renderer periodically pulls Engine.SnapshotAll() and repaints a table.
type Renderer struct {
	out    io.Writer
	engine *engine.Engine
	clock  clockwork.Clock
	totals *metrics.Totals
}

// New builds a Renderer writing to out.
func New(out io.Writer, eng *engine.Engine, clock clockwork.Clock) *Renderer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Renderer{out: out, engine: eng, clock: clock, totals: metrics.NewTotals()}
}

// Run repaints every refresh interval until ctx.Done via the caller closing
// done; callers typically select on a context and call Stop separately since
// Render itself has no cancellation of its own loop logic.
func (r *Renderer) Run(done <-chan struct{}, refresh time.Duration) {
	ticker := r.clock.NewTicker(refresh)
	defer ticker.Stop()

	r.Render()
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			r.Render()
		}
	}
}

// Render draws one full table from the engine's current snapshots.
func (r *Renderer) Render() {
	fmt.Fprint(r.out, clearHome)

	targets := r.engine.Targets()
	snaps := r.engine.SnapshotAll()

	table := tablewriter.NewWriter(r.out)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetHeader([]string{
		"Target", "Sent", "Recv",
		"Last\n(ms)", "Mean\n(ms)", "Min\n(ms)", "Max\n(ms)", "StdDev\n(ms)",
		"Loss\n(%)", "Status",
	})

	for i, s := range snaps {
		addr := "-"
		if i < len(targets) {
			addr = targets[i].IP.String()
		}

		r.totals.Update(addr, s.Sent, s.Recv)
		metrics.SetStatus(addr, s.Status.String(), allStatuses)

		table.Append([]string{
			addr,
			fmt.Sprintf("%d", s.Sent),
			fmt.Sprintf("%d", s.Recv),
			usField(s.Last, s.HasLast),
			msFloatField(s.Mean, s.HasStats),
			usField(s.Min, s.HasStats),
			usField(s.Max, s.HasStats),
			msFloatField(s.Stdev, s.HasStdev),
			fmt.Sprintf("%.1f", lossPercent(s)),
			colorize(s.Status),
		})
	}

	table.Render()
}

func lossPercent(s engine.StatsSnapshot) float64 {
	if s.Sent == 0 {
		return 0
	}
	return 100 * (1 - float64(s.Recv)/float64(s.Sent))
}

func usField(us uint32, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.3f", float64(us)/1000.0)
}

func msFloatField(v float64, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.3f", v/1000.0)
}

// colorize renders a status tag colorized the way the teacher's CLI output
// colorizes table cells, grounded on the fatih/color dependency already in
// the corpus.
func colorize(s target.Status) string {
	text := s.String()
	switch s.Kind {
	case target.StatusOK:
		return color.GreenString(text)
	case target.StatusTimeout, target.StatusLossy, target.StatusFlappy, target.StatusLaggy:
		return color.YellowString(text)
	case target.StatusNotReachable, target.StatusError:
		return color.RedString(text)
	case target.StatusPaused:
		return color.CyanString(text)
	default:
		return text
	}
}
