package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/vango-dev/recompose/internal/demo"
	"github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/pkg/compose"
	"github.com/vango-dev/recompose/pkg/scheduler"
)

func dumpCmd(flags *globalFlags) *cobra.Command {
	var (
		out   string
		steps int
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write the demo's slot table as JSON",
		Long: `Run the first --steps lines of the demo script and write the slot
table, node tree and pool state as JSON. The file is replaced atomically.

Examples:
  recompose dump --out slots.json
  recompose dump --steps 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd.Context(), flags, out, steps)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	cmd.Flags().IntVarP(&steps, "steps", "n", len(demo.Script), "Script steps to run first")

	return cmd
}

func runDump(ctx context.Context, flags *globalFlags, out string, steps int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	sched := scheduler.NewManual()
	rt := compose.NewRuntime(runtimeOptions(cfg, newLogger(cfg, os.Stderr), sched)...)
	sched.Attach(rt)
	defer rt.Close()

	app := demo.New(rt, demo.WithCapacity(cfg.ReuseCapacity()))
	steps = max(0, min(steps, len(demo.Script)))
	var discard bytes.Buffer
	if err := demo.Run(ctx, app, sched, demo.Script[:steps], &discard); err != nil {
		return err
	}
	if steps == 0 {
		if _, err := sched.Flush(ctx, 0); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(app.Snapshot(), "", "  ")
	if err != nil {
		return errors.New(errors.CodeDumpFailed).Wrap(err)
	}
	data = append(data, '\n')

	if out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := atomic.WriteFile(out, bytes.NewReader(data)); err != nil {
		return errors.New(errors.CodeDumpFailed).Wrap(err)
	}
	success("Wrote %s", out)
	return nil
}
