package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malbeclabs/mping/internal/cliflags"
	"github.com/malbeclabs/mping/internal/display"
	"github.com/malbeclabs/mping/internal/engine"
	"github.com/malbeclabs/mping/internal/icmpclient"
	"github.com/malbeclabs/mping/internal/ipspec"
	"github.com/malbeclabs/mping/internal/logging"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	flags, err := cliflags.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	log := logging.New(flags.Verbose || flags.Debug)

	targets, err := ipspec.ExpandAll(flags.TargetSpecs, flags.Exclude, log)
	if err != nil {
		log.Error("invalid target specification", "error", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if flags.MetricsAddr != "" {
		go serveMetrics(ctx, log, flags.MetricsAddr)
	}

	eng, err := engine.New(engine.Config{
		Targets:   targets,
		Interval:  flags.Interval,
		Timeout:   flags.Timeout,
		Size:      flags.Size,
		Randomize: flags.Randomize,
		HistSize:  flags.HistSize,
		Detailed:  flags.Detailed,
		Clock:     clockwork.NewRealClock(),
		Log:       log,
	})
	if err != nil {
		if pe, ok := icmpclient.AsPermission(err); ok {
			fmt.Fprintln(os.Stderr, icmpclient.RemediationText(filepath.Base(os.Args[0]), pe.Family))
			return err
		}
		log.Error("failed to start engine", "error", err)
		return err
	}

	eng.Start(ctx)

	renderer := display.New(os.Stdout, eng, clockwork.NewRealClock())
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	renderer.Run(done, flags.Refresh)

	eng.Stop()
	log.Info("stopped")
	return nil
}

func serveMetrics(ctx context.Context, log *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics server listening", "address", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", "error", err)
	}
}
