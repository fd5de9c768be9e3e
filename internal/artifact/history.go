package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tokensweep/tokensweep/pkg/models"
)

// History records runs in sqlite so past results can be listed and
// re-rendered even after individual artifact directories are cleaned up.
type History struct {
	db *sql.DB
}

// NewHistory opens the history database, creating it and its parent
// directory if needed, and runs migrations.
func NewHistory(dbPath string) (*History, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	// WAL mode so a CLI query can run while a sweep is writing
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history tables: %w", err)
	}
	return h, nil
}

func (h *History) migrate() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			status TEXT NOT NULL,
			mode TEXT NOT NULL,
			targets INTEGER NOT NULL,
			tiers INTEGER NOT NULL,
			results INTEGER NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0,
			best_rps REAL,
			error TEXT,

			-- Full manifest for detailed queries
			manifest_json TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`)
	return err
}

// SaveRun upserts a run's manifest together with aggregates drawn from
// its tier results. Called once at start and again at every status change.
func (h *History) SaveRun(ctx context.Context, m *models.RunManifest, results []*models.TierResult) error {
	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	failures := 0
	bestRPS := 0.0
	for _, r := range results {
		failures += r.Failures
		if r.RPS > bestRPS {
			bestRPS = r.RPS
		}
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			run_id, created_at, updated_at, status, mode,
			targets, tiers, results, failures, best_rps, error,
			manifest_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.RunID, m.CreatedAt, m.UpdatedAt, string(m.Status), string(m.Mode),
		len(m.Targets), len(m.Tiers), len(results), failures, bestRPS, m.Error,
		string(manifestJSON),
	)
	return err
}

// GetRun retrieves a run's manifest by ID, or nil when unknown
func (h *History) GetRun(ctx context.Context, runID string) (*models.RunManifest, error) {
	var manifestJSON string
	err := h.db.QueryRowContext(ctx, `
		SELECT manifest_json FROM runs WHERE run_id = ?
	`, runID).Scan(&manifestJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m models.RunManifest
	if err := json.Unmarshal([]byte(manifestJSON), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Entry is one run's row in history listings
type Entry struct {
	RunID     string
	CreatedAt time.Time
	Status    models.RunStatus
	Mode      models.ExecutionMode
	Targets   int
	Tiers     int
	Results   int
	Failures  int
	BestRPS   float64
	Error     string
}

// ListRecent returns the most recent runs, newest first
func (h *History) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT run_id, created_at, updated_at, status, mode,
		       targets, tiers, results, failures, best_rps, error
		FROM runs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry     Entry
		updatedAt time.Time
		status    string
		mode      string
		bestRPS   sql.NullFloat64
		runError  sql.NullString
	)
	err := rows.Scan(
		&entry.RunID, &entry.CreatedAt, &updatedAt, &status, &mode,
		&entry.Targets, &entry.Tiers, &entry.Results, &entry.Failures,
		&bestRPS, &runError,
	)
	if err != nil {
		return Entry{}, err
	}
	entry.Status = models.RunStatus(status)
	entry.Mode = models.ExecutionMode(mode)
	if bestRPS.Valid {
		entry.BestRPS = bestRPS.Float64
	}
	if runError.Valid {
		entry.Error = runError.String
	}
	return entry, nil
}

// DeleteRun removes a run from history
func (h *History) DeleteRun(ctx context.Context, runID string) error {
	_, err := h.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	return err
}

// PruneOlderThan deletes history rows created before the cutoff and
// returns how many were removed.
func (h *History) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the underlying database
func (h *History) Close() error {
	return h.db.Close()
}
