package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/recompose/internal/demo"
	"github.com/vango-dev/recompose/pkg/compose"
	"github.com/vango-dev/recompose/pkg/observe"
	"github.com/vango-dev/recompose/pkg/scheduler"
)

func demoCmd(flags *globalFlags) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the scripted demo",
		Long: `Run a short script against the demo app and print every pass.

Each step edits state, settles the runtime and prints the pass reports and
the node tree. Rows live in subcompositions, so removed rows are pooled and
brought back without rebuilding their nodes.

Examples:
  recompose demo
  recompose demo --log-level=debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := io.Writer(os.Stdout)
			if quiet {
				out = io.Discard
			}
			return runDemo(cmd.Context(), flags, out)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the final tree")

	return cmd
}

func runDemo(ctx context.Context, flags *globalFlags, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	sched := scheduler.NewManual()
	opts := runtimeOptions(cfg, logger, sched)
	opts = append(opts, compose.WithObserver(observe.NewLogger(logger, slog.LevelDebug)))
	rt := compose.NewRuntime(opts...)
	sched.Attach(rt)
	defer rt.Close()

	app := demo.New(rt, demo.WithCapacity(cfg.ReuseCapacity()), demo.WithLogger(logger))
	if err := demo.Run(ctx, app, sched, demo.Script, out); err != nil {
		return err
	}

	fmt.Println()
	fmt.Print(app.Tree())
	fmt.Println()
	st := app.Snapshot().Pool
	success("%d steps, pool: reused=%d created=%d evicted=%d", len(demo.Script), st.Reused, st.Created, st.Evicted)
	return nil
}
