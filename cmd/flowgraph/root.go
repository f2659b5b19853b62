package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/flowgraph/internal/config"
	"github.com/meikuraledutech/flowgraph/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "flowgraph",
	Short: "Graph state and validation engine for AI pipeline workflows",
	Long: `flowgraph holds the node graph of a visual AI pipeline editor, validates
connections, routes inputs to LLM nodes and persists workflows.`,
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
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")
}

// loadConfig reads the config named by --config and builds the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, logging.New(logging.ParseLevel(cfg.LogLevel)), nil
}
