package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/songzhibin97/graph-engine/config"
	"github.com/songzhibin97/graph-engine/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "graphengine",
	Short: "graphengine runs state-transforming workflow graphs",
	Long: `graphengine executes graphs of named operations over a shared state, with
conditional branching, loops bounded by an iteration guard and a per-run log.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
}

// loadConfig reads the config named by --config and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewWithWriter(os.Stderr, level, cfg.Log.Format == "json"), nil
}
