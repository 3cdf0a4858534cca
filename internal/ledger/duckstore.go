// Package ledger keeps a local DuckDB record of every claim submission attempt.
package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/oklog/ulid/v2"
)

// Outcome of a submission attempt.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeFailed    Outcome = "failed"
)

// Entry is one submission attempt.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Cedula    string    `json:"cedula"`
	Empresa   string    `json:"empresa"`
	Tipo      string    `json:"tipo"`
	Documents int       `json:"documents"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DuckStore persists entries in a DuckDB file.
type DuckStore struct {
	db     *sql.DB
	dbPath string
}

// NewDuckStore opens (or creates) the ledger database in dataDir.
func NewDuckStore(dataDir string) (*DuckStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	return NewDuckStoreAtPath(filepath.Join(dataDir, "submissions.duckdb"))
}

// NewDuckStoreAtPath opens (or creates) the ledger database at dbPath.
func NewDuckStoreAtPath(dbPath string) (*DuckStore, error) {
	fmt.Printf("[Ledger] Opening database at: %s\n", dbPath)

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				fmt.Printf("[Ledger] Pragma warning: %v\n", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS submissions (
			id         VARCHAR PRIMARY KEY,
			session_id VARCHAR NOT NULL,
			cedula     VARCHAR NOT NULL,
			empresa    VARCHAR,
			tipo       VARCHAR,
			documents  INTEGER NOT NULL,
			outcome    VARCHAR NOT NULL,
			error      VARCHAR,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &DuckStore{db: db, dbPath: dbPath}, nil
}

// Record stores e, assigning its ID and timestamp.
func (s *DuckStore) Record(ctx context.Context, e Entry) (Entry, error) {
	e.ID = ulid.Make().String()
	e.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, session_id, cedula, empresa, tipo, documents, outcome, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Cedula, e.Empresa, e.Tipo, e.Documents, string(e.Outcome), e.Error, e.CreatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("recording submission: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *DuckStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, cedula, empresa, tipo, documents, outcome, error, created_at
		FROM submissions
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                      Entry
			empresa, tipo, errText sql.NullString
			outcome                string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Cedula, &empresa, &tipo, &e.Documents, &outcome, &errText, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		e.Empresa = empresa.String
		e.Tipo = tipo.String
		e.Error = errText.String
		e.Outcome = Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *DuckStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *DuckStore) Path() string {
	return s.dbPath
}
