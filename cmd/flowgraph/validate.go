package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/flowgraph"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow.json>",
	Short: "Check a saved workflow against the connection rules",
	Long: `Rebuilds the workflow edge by edge through the connection validator and
reports every edge it would reject, plus nodes of unknown type.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := readWorkflowFile(args[0])
		if err != nil {
			return err
		}
		problems := validateSnapshot(snap)
		for _, p := range problems {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		if len(problems) > 0 {
			return fmt.Errorf("%d problem(s) found", len(problems))
		}
		fmt.Fprintln(cmd.OutOrStdout(), "workflow is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// readWorkflowFile accepts either a bare {"nodes","edges"} document or a
// stored workflow record.
func readWorkflowFile(path string) (flowgraph.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return flowgraph.Snapshot{}, err
	}
	var doc struct {
		Nodes json.RawMessage `json:"nodes"`
		Edges json.RawMessage `json:"edges"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return flowgraph.Snapshot{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return flowgraph.DecodeSnapshot(doc.Nodes, doc.Edges)
}

func validateSnapshot(snap flowgraph.Snapshot) []string {
	var problems []string
	for _, n := range snap.Nodes {
		if !n.Type.Valid() {
			problems = append(problems, fmt.Sprintf("node %s: unknown type %q", n.ID, n.Type))
		}
	}

	g := flowgraph.New()
	g.SetWorkflow(snap.Nodes, nil)
	for _, e := range snap.Edges {
		c := flowgraph.Connection{
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		}
		if !g.IsValidConnection(c) {
			problems = append(problems, fmt.Sprintf("edge %s: %s -> %s (%s) is not allowed", e.ID, e.Source, e.Target, handleName(e.TargetHandle)))
			continue
		}
		g.Connect(c)
	}
	return problems
}

func handleName(h string) string {
	if h == "" {
		return "no handle"
	}
	return "handle " + h
}
