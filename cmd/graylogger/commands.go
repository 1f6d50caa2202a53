package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-logger/internal/app"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/logging"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv overrides the default configuration path.
const configEnv = "GRAYLOGGER_CONFIG"

// newRootCommand creates the root command with all subcommands.
func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "graylogger",
		Short: "Gray Logic Logger - data acquisition logging engine",
		Long: `Gray Logic Logger reads variables from configured sources on a schedule,
merges them into one record per output and writes each record to CSV files,
MQTT topics, InfluxDB, SQLite or WebSocket clients.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Configuration file (default: $"+configEnv+" or "+defaultConfigPath+")")

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start logging until interrupted or the configured duration elapses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(configPath))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the columns of every output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return check(cmd.OutOrStdout(), getConfigPath(configPath))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "graylogger %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	})

	return cmd
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Configuration file to load
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Logger",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to report to
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	a, err := app.New(ctx, cfg, log, version)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			log.Error("error during shutdown", "error", closeErr)
		}
		log.Info("Gray Logic Logger stopped")
	}()

	return a.Run(ctx)
}

// check loads the configuration, builds the executor offline and prints
// the resolved columns and any name collisions.
func check(w io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	exec, err := app.Check(cfg)
	if err != nil {
		return err
	}

	tables := exec.Tables()
	_, _ = fmt.Fprintf(w, "configuration %s is valid\n", configPath)
	_, _ = fmt.Fprintf(w, "sources: %s\n", strings.Join(exec.SourceNames(), ", "))
	for _, name := range exec.OutputNames() {
		_, _ = fmt.Fprintf(w, "output %s: %s\n", name, strings.Join(tables.Columns(name), ", "))
	}

	if !tables.HasCollisions() {
		return nil
	}
	outputs := make([]string, 0, len(tables.Collisions))
	for name := range tables.Collisions {
		outputs = append(outputs, name)
	}
	sort.Strings(outputs)
	for _, out := range outputs {
		names := make([]string, 0, len(tables.Collisions[out]))
		for name := range tables.Collisions[out] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "collision in %s: %q from %s\n",
				out, name, strings.Join(tables.Collisions[out][name], ", "))
		}
	}
	return nil
}

// getConfigPath returns the configuration file path: the flag if set,
// then GRAYLOGGER_CONFIG, then the default.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
