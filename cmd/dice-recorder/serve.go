package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"dice-recorder/recorder"
	"dice-recorder/report"
	"dice-recorder/web"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	*rootOptions
	Addr           string
	SkipInitialRun bool
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion scheduler and the HTTP server",
		Long: `Run the ingestion loop and the HTTP surface until interrupted.

The first cycle starts immediately (unless --skip-initial-run), then one
cycle per interval. SIGINT or SIGTERM stops both tasks.

Example:
  dice-recorder serve --config dice.yaml
  DICE_UPSTREAM_API_URL=https://example.test/history dice-recorder serve --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&opts.SkipInitialRun, "skip-initial-run", false, "wait one interval before the first cycle")

	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd, opts.rootOptions, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if cmd.Flags().Changed("addr") {
		a.cfg.HTTP.Addr = opts.Addr
	}
	if cmd.Flags().Changed("skip-initial-run") {
		a.cfg.Schedule.SkipInitialRun = opts.SkipInitialRun
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := recorder.NewMetrics(reg)

	runner, err := a.newRunner(metrics)
	if err != nil {
		return err
	}
	sched := recorder.NewScheduler(runner, a.cfg.Schedule, a.log)
	reporter := report.New(a.store,
		report.WithNextRun(sched.NextRun),
		report.WithLastCycle(runner.LastResult),
	)

	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr: a.cfg.HTTP.Addr,
		Handler: web.NewServer(a.store, reporter, runner,
			web.WithMetrics(reg),
			web.WithLogger(a.log),
			web.WithLifetime(gctx),
		).Handler(),
		BaseContext:       func(net.Listener) context.Context { return gctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		a.log.Info("http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	a.log.Info("stopped")
	return err
}
