package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/argusops/argus/internal/noc"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at DATETIME NOT NULL,
	kind TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	alert_name TEXT NOT NULL,
	status TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dispatches_created_at ON dispatches(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_dispatches_fingerprint ON dispatches(fingerprint);
`

// Store keeps a local log of NOC dispatch outcomes for operators. It is
// telemetry only: alert state is never restored from it.
type Store struct {
	conn *sql.DB
}

// StoredDispatch is one row of the dispatch log.
type StoredDispatch struct {
	ID            int64     `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Kind          string    `json:"kind"`
	Fingerprint   string    `json:"fingerprint"`
	AlertName     string    `json:"alert_name"`
	Status        string    `json:"status"`
	CorrelationID string    `json:"correlation_id"`
	ExecutionID   string    `json:"execution_id"`
	Outcome       string    `json:"outcome"`
	Detail        string    `json:"detail,omitempty"`
}

// New opens the store and initializes the schema.
func New(dbPath string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Record inserts one dispatch outcome.
func (s *Store) Record(rec noc.DispatchRecord) error {
	query := `
		INSERT INTO dispatches (
			created_at, kind, fingerprint, alert_name, status,
			correlation_id, execution_id, outcome, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.Exec(
		query,
		rec.Time,
		rec.Kind,
		rec.Fingerprint,
		rec.AlertName,
		string(rec.Status),
		rec.CorrelationID,
		rec.ExecutionID,
		rec.Outcome,
		rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dispatch: %w", err)
	}
	return nil
}

// List returns the most recent dispatches, newest first.
func (s *Store) List(limit int) ([]StoredDispatch, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, created_at, kind, fingerprint, alert_name, status,
		       correlation_id, execution_id, outcome, detail
		FROM dispatches
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatches: %w", err)
	}
	defer rows.Close()

	var dispatches []StoredDispatch
	for rows.Next() {
		var d StoredDispatch
		if err := rows.Scan(
			&d.ID,
			&d.CreatedAt,
			&d.Kind,
			&d.Fingerprint,
			&d.AlertName,
			&d.Status,
			&d.CorrelationID,
			&d.ExecutionID,
			&d.Outcome,
			&d.Detail,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		dispatches = append(dispatches, d)
	}

	return dispatches, rows.Err()
}

// Count returns the total number of recorded dispatches.
func (s *Store) Count() (int, error) {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM dispatches").Scan(&count)
	return count, err
}
