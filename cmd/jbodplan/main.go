package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sigreer/jbodplan/internal/config"
	"github.com/sigreer/jbodplan/internal/db"
	"github.com/sigreer/jbodplan/internal/runner"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	cfg    *config.Config
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "jbodplan",
	Short: "Storage topology discovery and partition planning",
	Long: `jbodplan discovers the disks of a set of hosts, including volumes
exported by Adaptec and LSI MegaRAID controllers, classifies them as SSD
or HDD, and plans and applies whole-disk partition layouts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		logger = setupLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

// setupLogger creates a zerolog logger with the given level and format.
// The console format is only used when w is a terminal.
func setupLogger(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var output io.Writer = w
	if format == "console" && isTerminal(w) {
		output = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// newRunner creates the configured transport. The returned close function
// releases cached SSH connections.
func newRunner() (runner.Runner, func(), error) {
	r, err := runner.New(cfg.Transport, cfg.RunnerOptions(), logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {}
	if c, ok := r.(io.Closer); ok {
		closeFn = func() { c.Close() }
	}
	return r, closeFn, nil
}

func openDB() (*db.DB, error) {
	d, err := db.New(cfg.Inventory.Path)
	if err != nil {
		return nil, fmt.Errorf("error opening inventory: %w", err)
	}
	return d, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/jbodplan/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(partitionCmd)
	rootCmd.AddCommand(tableCmd)
	rootCmd.AddCommand(wipeCmd)
	rootCmd.AddCommand(inventoryCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
