package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/vango-dev/recompose/internal/demo"
	"github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/pkg/compose"
	"github.com/vango-dev/recompose/pkg/scheduler"
)

func replCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Edit demo state interactively",
		Long: `Start an interactive session against the demo app.

Every command that edits state is followed by a pass; its report is
printed before the next prompt.

Commands:
  title TEXT       set the heading
  inc [N], dec [N] change the counter
  add ID, remove ID, items ID,ID,...
  theme NAME       provide a new theme to every row
  tree, slots, pool
  help, exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			sched := scheduler.NewManual()
			rt := compose.NewRuntime(runtimeOptions(cfg, newLogger(cfg, os.Stderr), sched)...)
			sched.Attach(rt)
			defer rt.Close()

			r := &repl{
				app:   demo.New(rt, demo.WithCapacity(cfg.ReuseCapacity())),
				sched: sched,
				out:   os.Stdout,
			}
			return r.run(cmd.Context())
		},
	}
}

// repl is the interactive command loop.
type repl struct {
	app   *demo.App
	sched *scheduler.Manual
	out   io.Writer
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".recompose_history")
}

func (r *repl) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		f.Close()
	}
	defer r.saveHistory()

	r.settle(ctx)
	fmt.Fprintln(r.out, "recompose repl. Type 'help' for commands.")

	for {
		line, err := r.liner.Prompt("recompose> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(r.out, "\nBye!")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		switch strings.ToLower(strings.Fields(line)[0]) {
		case "exit", "quit", "q":
			fmt.Fprintln(r.out, "Bye!")
			return nil
		case "help", "?":
			fmt.Fprintln(r.out, "commands:", strings.Join(demo.Commands, ", "))
			continue
		}

		if err := r.app.Exec(line, r.out); err != nil {
			errors.Fprint(r.out, err)
			continue
		}
		r.settle(ctx)
	}
}

func (r *repl) settle(ctx context.Context) {
	reps, err := r.sched.Flush(ctx, 0)
	for _, rep := range reps {
		fmt.Fprintln(r.out, demo.Summary(rep))
	}
	if err != nil {
		errors.Fprint(r.out, err)
	}
}

func (r *repl) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			_, _ = r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *repl) completer(line string) []string {
	var out []string
	for _, c := range append([]string{"help", "exit"}, demo.Commands...) {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}
	return out
}
