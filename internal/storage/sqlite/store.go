// Package sqlite keeps a queryable index of saved analysis snapshots.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dyike/AurumGo/internal/models"
)

// createdLayout has a fixed width so created_at sorts as text.
const createdLayout = "2006-01-02T15:04:05.000Z07:00"

type Store struct {
	db *sql.DB
}

// Run is one indexed snapshot.
type Run struct {
	ID        int64
	Tool      string
	Status    string
	Source    string
	Action    string
	SpotPrice *float64
	Error     string
	Path      string
	CreatedAt time.Time
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps ":memory:" databases shared across queries
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tool TEXT NOT NULL,
    status TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL DEFAULT '',
    spot_price REAL,
    error TEXT NOT NULL DEFAULT '',
    path TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_tool_created ON runs(tool, created_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) Name() string { return "sqlite" }

// Record indexes a saved snapshot. Saving the same path twice updates the
// row.
func (s *Store) Record(ctx context.Context, tool string, rec *models.AnalysisRecord, path string, _ []byte) error {
	var spot sql.NullFloat64
	if rec.SpotPrice != nil {
		spot = sql.NullFloat64{Float64: *rec.SpotPrice, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (tool, status, source, action, spot_price, error, path, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
    status=excluded.status,
    source=excluded.source,
    action=excluded.action,
    spot_price=excluded.spot_price,
    error=excluded.error
`, tool, rec.Status, rec.Source, rec.Decision.Action, spot, rec.Error, path,
		rec.Timestamp.UTC().Format(createdLayout))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// ListRuns returns the newest runs first. An empty tool matches every tool.
func (s *Store) ListRuns(ctx context.Context, tool string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, tool, status, source, action, spot_price, error, path, created_at
FROM runs
WHERE (? = '' OR tool = ?)
ORDER BY created_at DESC, id DESC
LIMIT ?
`, tool, tool, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			spot    sql.NullFloat64
			created string
		)
		if err := rows.Scan(&r.ID, &r.Tool, &r.Status, &r.Source, &r.Action, &spot, &r.Error, &r.Path, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if spot.Valid {
			v := spot.Float64
			r.SpotPrice = &v
		}
		r.CreatedAt, _ = time.Parse(createdLayout, created)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs rows: %w", err)
	}
	return runs, nil
}

// CountByStatus returns how many runs of tool ended in each status.
func (s *Store) CountByStatus(ctx context.Context, tool string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT status, COUNT(*) FROM runs
WHERE (? = '' OR tool = ?)
GROUP BY status
`, tool, tool)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
