package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meikuraledutech/flowgraph"
)

// Querier is the subset of pgx used by PGStore. *pgxpool.Pool satisfies it.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore implements flowgraph.WorkflowStore using PostgreSQL via pgx.
type PGStore struct {
	db    Querier
	newID func() string
}

var _ flowgraph.WorkflowStore = (*PGStore)(nil)

// Option configures a PGStore.
type Option func(*PGStore)

// WithIDGenerator overrides how workflow ids are generated.
func WithIDGenerator(ids flowgraph.IDGenerator) Option {
	return func(s *PGStore) {
		s.newID = ids.NextID
	}
}

// New creates a new PGStore backed by the given pgx pool.
func New(db Querier, opts ...Option) *PGStore {
	s := &PGStore{db: db, newID: flowgraph.UUIDGenerator{}.NextID}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
