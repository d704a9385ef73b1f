// Package queue persists inbound webhook payloads in SQLite until the worker
// processes them. Rows dedup on the exact payload bytes; claims run in an
// IMMEDIATE transaction so concurrent claimers never hand out the same row.
package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"caseflow/domains/whatsapp"
)

// Row statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

const schema = `
CREATE TABLE IF NOT EXISTS ingest_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	last_error TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ingest_queue_payload ON ingest_queue(payload);
CREATE INDEX IF NOT EXISTS idx_ingest_queue_status ON ingest_queue(status);
`

// Store is the durable ingestion queue.
type Store struct {
	db *sql.DB
}

// Claimed is one row handed to the worker.
type Claimed struct {
	RowID   int64
	Payload *whatsapp.Payload
}

// Open creates or opens the queue database and ensures the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=30000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// SQLite serializes writers; one connection avoids busy churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init queue schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func nowStamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
}

// Enqueue inserts a payload, deduplicating on the serialized bytes. Returns
// false when an identical payload is already queued.
func (s *Store) Enqueue(p *whatsapp.Payload) (bool, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("serialize payload: %w", err)
	}
	return s.EnqueueRaw(data)
}

// EnqueueRaw inserts pre-serialized payload bytes.
func (s *Store) EnqueueRaw(payload []byte) (bool, error) {
	now := nowStamp()
	res, err := s.db.Exec(`
		INSERT INTO ingest_queue (payload, status, created_at, updated_at)
		VALUES (?, 'pending', ?, ?)
		ON CONFLICT(payload) DO NOTHING`,
		string(payload), now, now)
	if err != nil {
		return false, fmt.Errorf("enqueue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		logrus.Debug("[QUEUE] duplicate payload dropped")
		return false, nil
	}
	return true, nil
}

// ClaimNext atomically moves the oldest pending row to processing and hands
// it to the worker. A poison payload is marked as an error row instead of
// wedging the queue. Returns (nil, nil) when the queue is idle.
func (s *Store) ClaimNext() (*Claimed, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("claim begin: %w", err)
	}
	defer tx.Rollback()

	var (
		rowID   int64
		payload string
	)
	err = tx.QueryRow(`
		SELECT id, payload FROM ingest_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC LIMIT 1`).Scan(&rowID, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim select: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE ingest_queue SET status = 'processing', updated_at = ?, last_error = NULL WHERE id = ?`,
		nowStamp(), rowID); err != nil {
		return nil, fmt.Errorf("claim update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim commit: %w", err)
	}

	var p whatsapp.Payload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		if markErr := s.MarkError(rowID, fmt.Sprintf("unparseable payload: %v", err)); markErr != nil {
			logrus.WithError(markErr).Errorf("[QUEUE] failed to mark row %d", rowID)
		}
		return nil, fmt.Errorf("row %d: parse payload: %w", rowID, err)
	}
	return &Claimed{RowID: rowID, Payload: &p}, nil
}

// MarkDone finishes a claimed row.
func (s *Store) MarkDone(rowID int64) error {
	_, err := s.db.Exec(`
		UPDATE ingest_queue SET status = 'done', updated_at = ? WHERE id = ?`,
		nowStamp(), rowID)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return nil
}

// MarkError flags a row that could not be processed.
func (s *Store) MarkError(rowID int64, message string) error {
	_, err := s.db.Exec(`
		UPDATE ingest_queue SET status = 'error', last_error = ?, updated_at = ? WHERE id = ?`,
		message, nowStamp(), rowID)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return nil
}

// Requeue returns a claimed row to pending, for handler failures worth a
// retry.
func (s *Store) Requeue(rowID int64) error {
	_, err := s.db.Exec(`
		UPDATE ingest_queue SET status = 'pending', updated_at = ? WHERE id = ?`,
		nowStamp(), rowID)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

// PendingCount reports the backlog size.
func (s *Store) PendingCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ingest_queue WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

// Status returns the status and last_error of one row, for inspection.
func (s *Store) Status(rowID int64) (string, string, error) {
	var status string
	var lastErr sql.NullString
	err := s.db.QueryRow(`SELECT status, last_error FROM ingest_queue WHERE id = ?`, rowID).
		Scan(&status, &lastErr)
	if err != nil {
		return "", "", fmt.Errorf("row status: %w", err)
	}
	return status, lastErr.String, nil
}
