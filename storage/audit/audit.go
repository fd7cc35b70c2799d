package audit

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"
)

// Entry is one journaled mutating request.
type Entry struct {
	Seq          int64
	OccurredAt   time.Time
	Method       string
	Caller       string
	CommitmentID string
	Digest       string
	Code         int
	Outcome      string
}

// Store journals mutating RPC requests to SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the journal at path. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent and serialises
	// writers.
	db.SetMaxOpenConns(1)
	store := &Store{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS request_journal (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at INTEGER NOT NULL,
            method TEXT NOT NULL,
            caller TEXT,
            commitment_id TEXT,
            digest TEXT NOT NULL,
            code INTEGER NOT NULL,
            outcome TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS request_journal_commitment ON request_journal(commitment_id);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init audit schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Digest returns the hex blake3-256 digest of a request payload.
func Digest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Record appends entry to the journal and returns its sequence number.
// OccurredAt defaults to the current time.
func (s *Store) Record(ctx context.Context, entry Entry) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("audit store unavailable")
	}
	if entry.Method == "" {
		return 0, errors.New("audit entry requires method")
	}
	occurred := entry.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO request_journal (occurred_at, method, caller, commitment_id, digest, code, outcome) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		occurred.UTC().UnixMilli(), entry.Method, entry.Caller, entry.CommitmentID, entry.Digest, entry.Code, entry.Outcome,
	)
	if err != nil {
		return 0, fmt.Errorf("record audit entry: %w", err)
	}
	return res.LastInsertId()
}

// ByCommitment returns the journal entries for one commitment, oldest first.
func (s *Store) ByCommitment(ctx context.Context, commitmentID string) ([]Entry, error) {
	return s.query(ctx,
		`SELECT seq, occurred_at, method, caller, commitment_id, digest, code, outcome FROM request_journal WHERE commitment_id = ? ORDER BY seq ASC`,
		commitmentID)
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx,
		`SELECT seq, occurred_at, method, caller, commitment_id, digest, code, outcome FROM request_journal ORDER BY seq DESC LIMIT ?`,
		limit)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("audit store unavailable")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			entry    Entry
			occurred int64
			caller   sql.NullString
			id       sql.NullString
		)
		if err := rows.Scan(&entry.Seq, &occurred, &entry.Method, &caller, &id, &entry.Digest, &entry.Code, &entry.Outcome); err != nil {
			return nil, err
		}
		entry.OccurredAt = time.UnixMilli(occurred).UTC()
		entry.Caller = caller.String
		entry.CommitmentID = id.String
		out = append(out, entry)
	}
	return out, rows.Err()
}
