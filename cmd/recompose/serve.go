package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/vango-dev/recompose/internal/demo"
	"github.com/vango-dev/recompose/pkg/compose"
	"github.com/vango-dev/recompose/pkg/inspect"
	"github.com/vango-dev/recompose/pkg/observe"
	"github.com/vango-dev/recompose/pkg/scheduler"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var (
		addr  string
		every time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo on a frame loop with the inspector",
		Long: `Run the demo app on a frame loop and serve the inspector.

The script is replayed one step per --every. Passes run on the frame loop
and are visible at:

  /debug/passes      recent pass reports
  /debug/slots       slot tables of every composition
  /debug/nodes       node trees
  /metrics           Prometheus metrics
  /ws                live pass reports

Examples:
  recompose serve
  recompose serve --addr=:7070 --every=500ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags, addr, every)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().DurationVar(&every, "every", time.Second, "Delay between script steps")

	return cmd
}

func runServe(flags *globalFlags, addr string, every time.Duration) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Inspector.Addr = addr
	}
	logger := newLogger(cfg, os.Stderr)
	level, _ := cfg.LogLevel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	in := inspect.New(
		inspect.WithHistory(cfg.Inspector.History),
		inspect.WithGatherer(reg),
		inspect.WithLogger(logger),
	)
	observers := []compose.PassObserver{observe.NewLogger(logger, level), in}
	var metrics *observe.Metrics
	if cfg.Metrics.Enabled {
		metrics = observe.NewMetrics(observe.WithRegistry(reg), observe.WithNamespace(cfg.Metrics.Namespace))
		observers = append(observers, metrics)
	}
	if cfg.Tracing.Enabled {
		observers = append(observers, observe.NewTracer(
			observe.WithTracerName(cfg.Tracing.TracerName),
			observe.WithTracerProvider(otel.GetTracerProvider()),
		))
	}

	loop := scheduler.NewLoop(cfg.FrameInterval(), scheduler.WithLoopLogger(logger))
	opts := runtimeOptions(cfg, logger, loop)
	opts = append(opts, compose.WithObserver(observe.Multi(observers...)))
	rt := compose.NewRuntime(opts...)
	loop.Attach(rt)
	in.Attach(rt)

	appOpts := []demo.Option{demo.WithCapacity(cfg.ReuseCapacity()), demo.WithLogger(logger)}
	if metrics != nil {
		appOpts = append(appOpts, demo.WithEvictionHook(metrics.PoolEvicted))
	}
	app := demo.New(rt, appOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopDone := startLoop(ctx, loop)
	defer stopRuntime(cancel, loopDone, rt)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\n  Shutting down...")
		cancel()
	}()

	go replay(ctx, loop, app, every)

	srv := &http.Server{
		Addr:              cfg.Inspector.Addr,
		Handler:           in.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	printBanner()
	success("Inspector running at http://%s", cfg.Inspector.Addr)
	info("Frame interval %s, reuse capacity %d", cfg.FrameInterval(), cfg.ReuseCapacity())
	fmt.Println()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		cancel()
	}

	in.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	return err
}

// startLoop runs loop until ctx ends. The returned channel closes once Run
// has returned.
func startLoop(ctx context.Context, loop *scheduler.Loop) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	return done
}

// stopRuntime stops the frame loop and closes rt after the loop has exited,
// so no pass can start on a closed runtime.
func stopRuntime(cancel context.CancelFunc, loopDone <-chan struct{}, rt io.Closer) {
	cancel()
	<-loopDone
	_ = rt.Close()
}

// replay applies one script step per tick. Steps run as frame callbacks so
// they execute on the loop goroutine, ahead of the pass they schedule.
func replay(ctx context.Context, loop *scheduler.Loop, app *demo.App, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		line := demo.Script[i%len(demo.Script)]
		loop.OnNextFrame(func(time.Time) {
			if err := app.Exec(line, nil); err != nil {
				errorMsg("%s: %v", line, err)
			}
		})
	}
}
