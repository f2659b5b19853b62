package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/flowgraph"
	"github.com/meikuraledutech/flowgraph/gemini"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.json> <node-id>",
	Short: "Run one llm node of a saved workflow and print the result",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		snap, err := readWorkflowFile(args[0])
		if err != nil {
			return err
		}

		g := flowgraph.New(flowgraph.WithLogger(logger))
		g.SetWorkflow(snap.Nodes, snap.Edges)

		var opts []gemini.Option
		if cfg.Gemini.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
		}
		exec := flowgraph.NewExecutor(gemini.New(cfg.Gemini.APIKey, opts...), flowgraph.WithExecutorLogger(logger))

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := exec.Run(ctx, g, args[1]); err != nil {
			return err
		}

		n, _ := g.Node(args[1])
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(n.Data); err != nil {
			return fmt.Errorf("print result: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
