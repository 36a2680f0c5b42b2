package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alienxp03/deepdiscussion/internal/core"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &SQLiteStorage{
		db:   db,
		path: dbPath,
	}, nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Initialize creates the database schema.
func (s *SQLiteStorage) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS debates (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		roster_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		host TEXT NOT NULL DEFAULT '',
		rounds INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		final TEXT NOT NULL DEFAULT '',
		ledger_json TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		debate_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		participant TEXT NOT NULL DEFAULT '',
		from_participant TEXT NOT NULL DEFAULT '',
		round INTEGER NOT NULL DEFAULT 0,
		text TEXT NOT NULL,
		revision INTEGER NOT NULL DEFAULT 0,
		agreement TEXT NOT NULL DEFAULT '',
		critique TEXT NOT NULL DEFAULT '',
		severe INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		roster_json TEXT,
		ledger_json TEXT,
		rounds INTEGER NOT NULL DEFAULT 0,
		host TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		UNIQUE (debate_id, seq),
		FOREIGN KEY (debate_id) REFERENCES debates(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_entries_debate_id ON entries(debate_id);
	CREATE INDEX IF NOT EXISTS idx_debates_status ON debates(status);
	CREATE INDEX IF NOT EXISTS idx_debates_created_at ON debates(created_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// Databases created before final entries carried rounds and host.
	if err := s.ensureColumn("entries", "rounds", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	return s.ensureColumn("entries", "host", "TEXT NOT NULL DEFAULT ''")
}

func (s *SQLiteStorage) ensureColumn(table, column, decl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	rows.Close()

	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("failed to add column %s.%s: %w", table, column, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateDebate creates a new debate.
func (s *SQLiteStorage) CreateDebate(debate *core.Debate) error {
	rosterJSON, err := json.Marshal(debate.Roster)
	if err != nil {
		return fmt.Errorf("failed to marshal roster: %w", err)
	}
	ledgerJSON, err := marshalLedger(debate.Ledger)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO debates (id, question, roster_json, status, host, rounds, reason, final, ledger_json, created_at, updated_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		debate.ID,
		debate.Question,
		string(rosterJSON),
		debate.Status,
		debate.Host,
		debate.Rounds,
		debate.Reason,
		debate.Final,
		ledgerJSON,
		debate.CreatedAt,
		debate.UpdatedAt,
		debate.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert debate: %w", err)
	}
	return nil
}

// GetDebate retrieves a debate by ID. It returns nil, nil when no such debate exists.
func (s *SQLiteStorage) GetDebate(id string) (*core.Debate, error) {
	query := `
	SELECT id, question, roster_json, status, host, rounds, reason, final, ledger_json, created_at, updated_at, completed_at
	FROM debates
	WHERE id = ?
	`

	var debate core.Debate
	var rosterJSON string
	var ledgerJSON sql.NullString
	var completedAt sql.NullTime

	err := s.db.QueryRow(query, id).Scan(
		&debate.ID,
		&debate.Question,
		&rosterJSON,
		&debate.Status,
		&debate.Host,
		&debate.Rounds,
		&debate.Reason,
		&debate.Final,
		&ledgerJSON,
		&debate.CreatedAt,
		&debate.UpdatedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get debate: %w", err)
	}

	if err := json.Unmarshal([]byte(rosterJSON), &debate.Roster); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roster: %w", err)
	}
	if debate.Ledger, err = unmarshalLedger(ledgerJSON); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		debate.CompletedAt = &completedAt.Time
	}
	return &debate, nil
}

// UpdateDebate updates the mutable fields of an existing debate.
func (s *SQLiteStorage) UpdateDebate(debate *core.Debate) error {
	ledgerJSON, err := marshalLedger(debate.Ledger)
	if err != nil {
		return err
	}

	debate.UpdatedAt = time.Now()

	query := `
	UPDATE debates
	SET status = ?, host = ?, rounds = ?, reason = ?, final = ?, ledger_json = ?, updated_at = ?, completed_at = ?
	WHERE id = ?
	`

	res, err := s.db.Exec(query,
		debate.Status,
		debate.Host,
		debate.Rounds,
		debate.Reason,
		debate.Final,
		ledgerJSON,
		debate.UpdatedAt,
		debate.CompletedAt,
		debate.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update debate: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("debate not found: %s", debate.ID)
	}
	return nil
}

// DeleteDebate deletes a debate and its entries.
func (s *SQLiteStorage) DeleteDebate(id string) error {
	if _, err := s.db.Exec("DELETE FROM debates WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete debate: %w", err)
	}
	return nil
}

// ListDebates returns debate summaries, newest first.
func (s *SQLiteStorage) ListDebates(limit, offset int) ([]*core.DebateSummary, error) {
	query := `
	SELECT d.id, d.question, d.status, d.reason, d.rounds, d.host, d.created_at,
		   (SELECT COUNT(*) FROM entries WHERE debate_id = d.id) as entry_count
	FROM debates d
	ORDER BY d.created_at DESC
	LIMIT ? OFFSET ?
	`

	rows, err := s.db.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list debates: %w", err)
	}
	defer rows.Close()

	var summaries []*core.DebateSummary
	for rows.Next() {
		var summary core.DebateSummary
		err := rows.Scan(
			&summary.ID,
			&summary.Question,
			&summary.Status,
			&summary.Reason,
			&summary.Rounds,
			&summary.Host,
			&summary.CreatedAt,
			&summary.EntryCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan debate summary: %w", err)
		}
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list debates: %w", err)
	}
	return summaries, nil
}

// AddEntry appends an entry to a debate's transcript.
func (s *SQLiteStorage) AddEntry(entry *core.Entry) error {
	var rosterJSON *string
	if len(entry.Roster) > 0 {
		data, err := json.Marshal(entry.Roster)
		if err != nil {
			return fmt.Errorf("failed to marshal roster: %w", err)
		}
		str := string(data)
		rosterJSON = &str
	}
	ledgerJSON, err := marshalLedger(entry.Ledger)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO entries (id, debate_id, seq, kind, participant, from_participant, round, text, revision, agreement, critique, severe, reason, roster_json, ledger_json, rounds, host, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		entry.ID,
		entry.DebateID,
		entry.Seq,
		entry.Kind,
		entry.Participant,
		entry.From,
		entry.Round,
		entry.Text,
		entry.Revision,
		entry.Agreement,
		entry.Critique,
		entry.Severe,
		entry.Reason,
		rosterJSON,
		ledgerJSON,
		entry.Rounds,
		entry.Host,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// GetEntries returns all entries for a debate in recording order.
func (s *SQLiteStorage) GetEntries(debateID string) ([]*core.Entry, error) {
	query := `
	SELECT id, debate_id, seq, kind, participant, from_participant, round, text, revision, agreement, critique, severe, reason, roster_json, ledger_json, rounds, host, created_at
	FROM entries
	WHERE debate_id = ?
	ORDER BY seq ASC
	`

	rows, err := s.db.Query(query, debateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries: %w", err)
	}
	defer rows.Close()

	var entries []*core.Entry
	for rows.Next() {
		var entry core.Entry
		var rosterJSON, ledgerJSON sql.NullString
		err := rows.Scan(
			&entry.ID,
			&entry.DebateID,
			&entry.Seq,
			&entry.Kind,
			&entry.Participant,
			&entry.From,
			&entry.Round,
			&entry.Text,
			&entry.Revision,
			&entry.Agreement,
			&entry.Critique,
			&entry.Severe,
			&entry.Reason,
			&rosterJSON,
			&ledgerJSON,
			&entry.Rounds,
			&entry.Host,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if rosterJSON.Valid {
			if err := json.Unmarshal([]byte(rosterJSON.String), &entry.Roster); err != nil {
				return nil, fmt.Errorf("failed to unmarshal roster: %w", err)
			}
		}
		if entry.Ledger, err = unmarshalLedger(ledgerJSON); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get entries: %w", err)
	}
	return entries, nil
}

func marshalLedger(ledger map[string]int) (*string, error) {
	if ledger == nil {
		return nil, nil
	}
	data, err := json.Marshal(ledger)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger: %w", err)
	}
	str := string(data)
	return &str, nil
}

func unmarshalLedger(raw sql.NullString) (map[string]int, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var ledger map[string]int
	if err := json.Unmarshal([]byte(raw.String), &ledger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger: %w", err)
	}
	return ledger, nil
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "deepdiscussion.db"
	}
	return filepath.Join(home, ".deepdiscussion", "deepdiscussion.db")
}
