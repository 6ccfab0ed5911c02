package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"availtrack/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS availability (
	resource_id TEXT    NOT NULL,
	start_ms    INTEGER NOT NULL,
	end_ms      INTEGER,
	type        TEXT    NOT NULL,
	PRIMARY KEY (resource_id, start_ms)
);
CREATE INDEX IF NOT EXISTS idx_availability_open ON availability (resource_id) WHERE end_ms IS NULL;
`

type intervalRow struct {
	ResourceID string        `db:"resource_id"`
	StartMS    int64         `db:"start_ms"`
	EndMS      sql.NullInt64 `db:"end_ms"`
	Type       string        `db:"type"`
}

// SQLiteStore persists timelines in a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Intervals loads the full timeline for a resource.
func (s *SQLiteStore) Intervals(ctx context.Context, resourceID string) ([]models.Interval, error) {
	var rows []intervalRow
	query := `SELECT resource_id, start_ms, end_ms, type FROM availability WHERE resource_id = ? ORDER BY start_ms`
	if err := s.db.SelectContext(ctx, &rows, query, resourceID); err != nil {
		return nil, fmt.Errorf("select intervals for %s: %w", resourceID, err)
	}
	return decodeRows(rows)
}

// IntervalsInRange loads only the intervals intersecting [start, end).
func (s *SQLiteStore) IntervalsInRange(ctx context.Context, resourceID string, start, end time.Time) ([]models.Interval, error) {
	var rows []intervalRow
	query := `
		SELECT resource_id, start_ms, end_ms, type FROM availability
		WHERE resource_id = ? AND start_ms < ? AND (end_ms IS NULL OR end_ms > ?)
		ORDER BY start_ms`
	if err := s.db.SelectContext(ctx, &rows, query, resourceID, end.UnixMilli(), start.UnixMilli()); err != nil {
		return nil, fmt.Errorf("select intervals for %s: %w", resourceID, err)
	}
	return decodeRows(rows)
}

// Replace rewrites a resource's timeline inside one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, resourceID string, intervals []models.Interval) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace for %s: %w", resourceID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM availability WHERE resource_id = ?`, resourceID); err != nil {
		return fmt.Errorf("clear intervals for %s: %w", resourceID, err)
	}
	if len(intervals) > 0 {
		rows := make([]intervalRow, 0, len(intervals))
		for _, iv := range intervals {
			rows = append(rows, encodeRow(resourceID, iv))
		}
		insert := `INSERT INTO availability (resource_id, start_ms, end_ms, type) VALUES (:resource_id, :start_ms, :end_ms, :type)`
		if _, err := tx.NamedExecContext(ctx, insert, rows); err != nil {
			return fmt.Errorf("insert intervals for %s: %w", resourceID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace for %s: %w", resourceID, err)
	}
	return nil
}

// ResourceIDs lists every resource with stored history.
func (s *SQLiteStore) ResourceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT resource_id FROM availability ORDER BY resource_id`); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return ids, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeRow(resourceID string, iv models.Interval) intervalRow {
	row := intervalRow{
		ResourceID: resourceID,
		StartMS:    iv.Start.UnixMilli(),
		Type:       iv.Type.String(),
	}
	if !iv.Open() {
		row.EndMS = sql.NullInt64{Int64: iv.End.UnixMilli(), Valid: true}
	}
	return row
}

func decodeRows(rows []intervalRow) ([]models.Interval, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]models.Interval, 0, len(rows))
	for _, row := range rows {
		typ, err := models.ParseAvailabilityType(row.Type)
		if err != nil {
			return nil, fmt.Errorf("decode interval %s@%d: %w", row.ResourceID, row.StartMS, err)
		}
		iv := models.Interval{
			ResourceID: row.ResourceID,
			Type:       typ,
			Start:      time.UnixMilli(row.StartMS).UTC(),
		}
		if row.EndMS.Valid {
			iv.End = time.UnixMilli(row.EndMS.Int64).UTC()
		}
		out = append(out, iv)
	}
	return out, nil
}
