package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meikuraledutech/flowgraph"
	"github.com/meikuraledutech/flowgraph/memory"
	"github.com/meikuraledutech/flowgraph/postgres"
)

func main() {
	ctx := context.Background()

	// Postgres when DATABASE_URL is set, memory otherwise.
	var store flowgraph.WorkflowStore = memory.NewWorkflowStore()
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			log.Fatalf("connect: %v", err)
		}
		defer pool.Close()
		store = postgres.New(pool)
	}

	// 1. Create tables
	if err := store.CreateSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}
	fmt.Println("schema ready")

	// ── Build a graph: prompt text → llm.user, llm → output ───────────
	g := flowgraph.New()

	prompt, _ := g.AddNode(flowgraph.KindText)
	if err := g.UpdateNodeData(prompt.ID, map[string]any{"value": "Write a haiku about graphs"}); err != nil {
		log.Fatalf("update text: %v", err)
	}
	llm, _ := g.AddNode(flowgraph.KindLLM)

	if _, ok := g.Connect(flowgraph.Connection{Source: prompt.ID, Target: llm.ID, TargetHandle: flowgraph.HandleUser}); !ok {
		log.Fatal("text → llm.user rejected")
	}
	// Text cannot feed the images handle.
	fmt.Println("text → llm.images valid:", g.IsValidConnection(flowgraph.Connection{
		Source: prompt.ID, Target: llm.ID, TargetHandle: flowgraph.HandleImages,
	}))

	out, _ := g.AddOutputNode(llm.ID)
	fmt.Printf("output node %s added\n", out.ID)

	in, err := g.ResolveInputs(llm.ID)
	if err != nil {
		log.Fatalf("resolve: %v", err)
	}
	fmt.Println("\nresolved inputs:")
	printJSON(in)

	// ── Run with a local generator ────────────────────────────────────
	exec := flowgraph.NewExecutor(flowgraph.GeneratorFunc(
		func(ctx context.Context, req flowgraph.GenerateRequest) (*flowgraph.GenerateResult, error) {
			return &flowgraph.GenerateResult{Text: strings.ToUpper(req.UserMessage)}, nil
		}))
	if err := exec.Run(ctx, g, llm.ID); err != nil {
		log.Fatalf("run: %v", err)
	}

	m, _ := g.Materialize(out.ID)
	fmt.Println("\noutput materialized:")
	printJSON(m)

	// ── Save and reload ───────────────────────────────────────────────
	nodes, edges, err := g.Snapshot().Encode()
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	wf, err := store.CreateWorkflow(ctx, &flowgraph.Workflow{
		OwnerID: "demo-user",
		Name:    "Haiku pipeline",
		Nodes:   nodes,
		Edges:   edges,
	})
	if err != nil {
		log.Fatalf("create workflow: %v", err)
	}
	fmt.Printf("\nworkflow saved: %s\n", wf.ID)

	page, err := store.ListWorkflows(ctx, "demo-user", flowgraph.ListQuery{Search: "haiku"})
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	fmt.Printf("found %d workflow(s)\n", len(page.Items))

	loaded, err := store.GetWorkflow(ctx, "demo-user", wf.ID)
	if err != nil || loaded == nil {
		log.Fatalf("get workflow: %v", err)
	}
	snap, err := flowgraph.DecodeSnapshot(loaded.Nodes, loaded.Edges)
	if err != nil {
		log.Fatalf("decode: %v", err)
	}
	restored := flowgraph.New()
	restored.SetWorkflow(snap.Nodes, snap.Edges)
	fmt.Printf("restored %d nodes, %d edges\n", len(restored.Nodes()), len(restored.Edges()))

	// ── Cleanup ───────────────────────────────────────────────────────
	if err := store.DeleteWorkflow(ctx, "demo-user", wf.ID); err != nil {
		log.Fatalf("delete: %v", err)
	}
	fmt.Println("\nworkflow deleted")
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
