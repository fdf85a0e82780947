package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS topics (
	topic_id   TEXT PRIMARY KEY,
	memo       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	topic_id            TEXT NOT NULL REFERENCES topics(topic_id),
	sequence_number     INTEGER NOT NULL,
	consensus_timestamp INTEGER NOT NULL,
	payload             BLOB NOT NULL,
	PRIMARY KEY (topic_id, sequence_number)
);

INSERT OR IGNORE INTO schema_migrations (version) VALUES (1);
`

// SQLiteLog is a durable ordered log backed by a SQLite file.
// Several processes may share the file; sequence numbers are assigned
// inside the insert transaction and conflicts surface as retryable errors.
type SQLiteLog struct {
	dbPath       string
	db           *sql.DB
	mu           sync.Mutex
	maxEntrySize int
	readLimit    int
}

// SQLiteLogOption configures a SQLiteLog.
type SQLiteLogOption func(*SQLiteLog)

// WithSQLiteMaxEntrySize rejects payloads larger than n bytes.
func WithSQLiteMaxEntrySize(n int) SQLiteLogOption {
	return func(l *SQLiteLog) {
		l.maxEntrySize = n
	}
}

// WithSQLiteReadLimit caps how many entries one ReadFrom returns.
func WithSQLiteReadLimit(n int) SQLiteLogOption {
	return func(l *SQLiteLog) {
		l.readLimit = n
	}
}

// NewSQLiteLog opens (creating if needed) the log database at dbPath.
func NewSQLiteLog(dbPath string, opts ...SQLiteLogOption) (*SQLiteLog, error) {
	l := &SQLiteLog{dbPath: dbPath}
	for _, opt := range opts {
		opt(l)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	l.db = db

	if _, err := db.Exec(ledgerSchema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("applying ledger schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}
	return l, nil
}

// Close closes the database connection.
func (l *SQLiteLog) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (l *SQLiteLog) Path() string {
	return l.dbPath
}

// CreateTopic inserts a new topic row.
func (l *SQLiteLog) CreateTopic(ctx context.Context, memo string) (string, error) {
	id := "sql-" + uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO topics (topic_id, memo, created_at) VALUES (?, ?, ?)",
		id, memo, time.Now().UTC())
	if err != nil {
		return "", core.ErrTransport(core.CodeLogUnavailable, "creating topic").WithCause(err)
	}
	return id, nil
}

// Publish appends payload as the next entry of topicID.
func (l *SQLiteLog) Publish(ctx context.Context, topicID string, payload []byte) (int64, error) {
	entry, err := l.PublishEntry(ctx, topicID, payload)
	return entry.SequenceNumber, err
}

// PublishEntry is Publish returning the stored entry.
func (l *SQLiteLog) PublishEntry(ctx context.Context, topicID string, payload []byte) (core.LogEntry, error) {
	if l.maxEntrySize > 0 && len(payload) > l.maxEntrySize {
		return core.LogEntry{}, core.ErrValidation(core.CodeEntryTooLarge,
			fmt.Sprintf("entry of %d bytes exceeds limit of %d", len(payload), l.maxEntrySize))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return core.LogEntry{}, core.ErrTransport(core.CodeLogUnavailable, "beginning publish transaction").WithCause(err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM topics WHERE topic_id = ?", topicID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LogEntry{}, core.ErrTopicNotFound(topicID)
	}
	if err != nil {
		return core.LogEntry{}, core.ErrTransport(core.CodeLogUnavailable, "looking up topic").WithCause(err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM messages WHERE topic_id = ?", topicID).Scan(&seq)
	if err != nil {
		return core.LogEntry{}, core.ErrTransport(core.CodeLogUnavailable, "assigning sequence number").WithCause(err)
	}

	stamp := time.Now().UTC().UnixNano()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (topic_id, sequence_number, consensus_timestamp, payload) VALUES (?, ?, ?, ?)",
		topicID, seq, stamp, payload)
	if err != nil {
		if isConstraintError(err) {
			return core.LogEntry{}, core.ErrTransport(core.CodeLogPublishFailed, "sequence number taken by a concurrent writer").WithCause(err)
		}
		return core.LogEntry{}, core.ErrTransport(core.CodeLogUnavailable, "inserting entry").WithCause(err)
	}

	if err := tx.Commit(); err != nil {
		return core.LogEntry{}, core.ErrTransport(core.CodeLogUnavailable, "committing entry").WithCause(err)
	}
	return core.LogEntry{
		TopicID:            topicID,
		SequenceNumber:     seq,
		ConsensusTimestamp: time.Unix(0, stamp).UTC(),
		Payload:            payload,
	}, nil
}

// ReadFrom returns entries after afterSequence.
func (l *SQLiteLog) ReadFrom(ctx context.Context, topicID string, afterSequence int64) ([]core.LogEntry, error) {
	var exists int
	err := l.db.QueryRowContext(ctx, "SELECT 1 FROM topics WHERE topic_id = ?", topicID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrTopicNotFound(topicID)
	}
	if err != nil {
		return nil, core.ErrTransport(core.CodeLogUnavailable, "looking up topic").WithCause(err)
	}

	query := `SELECT sequence_number, consensus_timestamp, payload FROM messages
		WHERE topic_id = ? AND sequence_number > ? ORDER BY sequence_number ASC`
	args := []interface{}{topicID, afterSequence}
	if l.readLimit > 0 {
		query += " LIMIT ?"
		args = append(args, l.readLimit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.ErrTransport(core.CodeLogUnavailable, "reading entries").WithCause(err)
	}
	defer rows.Close()

	entries := make([]core.LogEntry, 0)
	for rows.Next() {
		var (
			seq     int64
			ts      int64
			payload []byte
		)
		if err := rows.Scan(&seq, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, core.LogEntry{
			TopicID:            topicID,
			SequenceNumber:     seq,
			ConsensusTimestamp: time.Unix(0, ts).UTC(),
			Payload:            payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

func isConstraintError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "constraint")
}
