package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/recompose/internal/config"
	"github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/pkg/compose"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┬─┐┌─┐┌─┐┌─┐┌┬┐┌─┐┌─┐┌─┐┌─┐
  ├┬┘├┤ │  │ ││││├─┘│ │└─┐├┤
  ┴└─└─┘└─┘└─┘┴ ┴┴  └─┘└─┘└─┘
`

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "recompose",
		Short: "Incremental composition runtime tools",
		Long: `recompose drives a declarative composition runtime.

Composable functions build a tree of nodes. When state they read changes,
only the affected groups run again and the tree is patched in place.

  • Scripted demo with per-pass reports
  • Interactive REPL for state edits
  • Frame loop with an HTTP inspector and Prometheus metrics
  • Slot table dumps`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (default ./recompose.json or ./recompose.yaml)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(
		demoCmd(&flags),
		serveCmd(&flags),
		replCmd(&flags),
		dumpCmd(&flags),
		configCmd(&flags),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.Fprint(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config named by --config, or the one in the working
// directory, or returns defaults.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case flags.configPath != "":
		cfg, err = config.LoadFile(flags.configPath)
	case config.Exists("."):
		cfg, err = config.Load(".")
	default:
		cfg = config.New()
	}
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := cfg.LogLevel()
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// runtimeOptions turns cfg into runtime options.
func runtimeOptions(cfg *config.Config, logger *slog.Logger, sched compose.Scheduler) []compose.Option {
	opts := []compose.Option{
		compose.WithLogger(logger),
		compose.WithScheduler(sched),
	}
	if b := cfg.Budget(); b != nil {
		opts = append(opts, compose.WithBudget(*b))
	}
	return opts
}

// printBanner prints the ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
