package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/meikuraledutech/flowgraph"
)

const workflowColumns = `id, user_id, name, nodes, edges, created_at, updated_at`

// CreateWorkflow saves a new workflow for w.OwnerID in one transaction,
// registering the owner if needed. An empty ID gets a generated one.
func (s *PGStore) CreateWorkflow(ctx context.Context, w *flowgraph.Workflow) (*flowgraph.Workflow, error) {
	if w.ID == "" {
		w.ID = s.newID()
	}
	if len(w.Nodes) == 0 {
		w.Nodes = flowgraph.EmptyList
	}
	if len(w.Edges) == 0 {
		w.Edges = flowgraph.EmptyList
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("flowgraph: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, w.OwnerID,
	); err != nil {
		return nil, fmt.Errorf("flowgraph: upsert user: %w", err)
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO workflows (id, user_id, name, nodes, edges) VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		w.ID, w.OwnerID, w.Name, w.Nodes, w.Edges,
	).Scan(&w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, fmt.Errorf("flowgraph: insert workflow: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("flowgraph: commit: %w", err)
	}
	return w, nil
}

// ListWorkflows returns one page of the owner's workflows, most recently
// updated first. The cursor is the id of the first row of the page.
func (s *PGStore) ListWorkflows(ctx context.Context, ownerID string, q flowgraph.ListQuery) (*flowgraph.Page, error) {
	limit := q.PageSize()

	rows, err := s.db.Query(ctx,
		`SELECT `+workflowColumns+` FROM workflows
		 WHERE user_id = $1
		   AND ($2 = '' OR name ILIKE $3)
		   AND ($4 = '' OR (updated_at, id) <= (SELECT updated_at, id FROM workflows WHERE id = $4 AND user_id = $1))
		 ORDER BY updated_at DESC, id DESC
		 LIMIT $5`,
		ownerID, q.Search, likePattern(q.Search), q.Cursor, limit+1,
	)
	if err != nil {
		return nil, fmt.Errorf("flowgraph: list workflows: %w", err)
	}
	defer rows.Close()

	page := &flowgraph.Page{Items: []flowgraph.Workflow{}}
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flowgraph: rows workflows: %w", err)
	}

	if len(page.Items) > limit {
		page.NextCursor = page.Items[limit].ID
		page.Items = page.Items[:limit]
	}
	return page, nil
}

// GetWorkflow fetches a workflow owned by ownerID.
// Returns nil, nil if not found.
func (s *PGStore) GetWorkflow(ctx context.Context, ownerID, id string) (*flowgraph.Workflow, error) {
	w, err := scanWorkflow(s.db.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1 AND user_id = $2`, id, ownerID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// UpdateWorkflow replaces the workflow's graph and optionally its name.
// Returns ErrWorkflowNotFound or ErrForbidden.
func (s *PGStore) UpdateWorkflow(ctx context.Context, ownerID string, u *flowgraph.WorkflowUpdate) (*flowgraph.Workflow, error) {
	var owner string
	err := s.db.QueryRow(ctx, `SELECT user_id FROM workflows WHERE id = $1`, u.ID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, flowgraph.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("flowgraph: find workflow: %w", err)
	}
	if owner != ownerID {
		return nil, flowgraph.ErrForbidden
	}

	nodes, edges := u.Nodes, u.Edges
	if len(nodes) == 0 {
		nodes = flowgraph.EmptyList
	}
	if len(edges) == 0 {
		edges = flowgraph.EmptyList
	}

	w, err := scanWorkflow(s.db.QueryRow(ctx,
		`UPDATE workflows SET name = COALESCE($1::TEXT, name), nodes = $2, edges = $3, updated_at = NOW()
		 WHERE id = $4 RETURNING `+workflowColumns,
		u.Name, nodes, edges, u.ID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, flowgraph.ErrWorkflowNotFound
	}
	return w, err
}

// DeleteWorkflow removes a workflow owned by ownerID.
// Returns ErrWorkflowNotFound if there is nothing to delete.
func (s *PGStore) DeleteWorkflow(ctx context.Context, ownerID, id string) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("flowgraph: delete workflow: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return flowgraph.ErrWorkflowNotFound
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*flowgraph.Workflow, error) {
	var w flowgraph.Workflow
	err := row.Scan(&w.ID, &w.OwnerID, &w.Name, &w.Nodes, &w.Edges, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("flowgraph: scan workflow: %w", err)
	}
	return &w, nil
}

// likePattern builds a substring ILIKE pattern with wildcards escaped.
func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(search) + "%"
}
