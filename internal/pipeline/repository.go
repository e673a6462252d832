package pipeline

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"
)

// History persists finished runs.
type History interface {
	Record(ctx context.Context, run *RunRecord) error
	Recent(ctx context.Context, kind Kind, limit int) ([]RunRecord, error)
}

const runHistorySchema = `
	CREATE TABLE IF NOT EXISTS migration_runs (
		id            BIGSERIAL PRIMARY KEY,
		kind          TEXT        NOT NULL,
		status        TEXT        NOT NULL,
		started_at    TIMESTAMPTZ NOT NULL,
		completed_at  TIMESTAMPTZ,
		error_message TEXT        NOT NULL DEFAULT '',
		item_errors   INTEGER     NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_migration_runs_kind_started ON migration_runs (kind, started_at DESC);
`

// Repository stores run history in postgres.
type Repository struct {
	db *sqlx.DB
}

var _ History = (*Repository)(nil)

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the history table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, runHistorySchema)
	return err
}

func (r *Repository) Record(ctx context.Context, run *RunRecord) error {
	query := `
		INSERT INTO migration_runs (
			kind, status, started_at, completed_at, error_message, item_errors
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	return r.db.QueryRowContext(
		ctx, query,
		run.Kind, run.Status, run.StartedAt, run.CompletedAt, run.ErrorMessage, run.ItemErrors,
	).Scan(&run.ID)
}

// Recent returns the newest runs first. An empty kind matches every kind.
func (r *Repository) Recent(ctx context.Context, kind Kind, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, kind, status, started_at, completed_at, error_message, item_errors
		FROM migration_runs
		WHERE ($1::text = '' OR kind = $1::text)
		ORDER BY started_at DESC, id DESC
		LIMIT $2
	`

	runs := make([]RunRecord, 0)
	if err := r.db.SelectContext(ctx, &runs, query, string(kind), limit); err != nil {
		return nil, err
	}
	return runs, nil
}

// MemoryHistory keeps run history in process.
type MemoryHistory struct {
	mu   sync.Mutex
	runs []RunRecord
}

var _ History = (*MemoryHistory)(nil)

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Record(_ context.Context, run *RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	run.ID = int64(len(h.runs) + 1)
	h.runs = append(h.runs, *run)
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, kind Kind, limit int) ([]RunRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]RunRecord, 0, limit)
	for i := len(h.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if kind == "" || h.runs[i].Kind == kind {
			out = append(out, h.runs[i])
		}
	}
	return out, nil
}
