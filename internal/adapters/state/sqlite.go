package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS evaluations (
	id                 TEXT PRIMARY KEY,
	content            TEXT NOT NULL,
	criteria           TEXT NOT NULL,
	agents             TEXT NOT NULL,
	weights            TEXT,
	algorithm          TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	topic_id           TEXT NOT NULL DEFAULT '',
	result_algorithm   TEXT NOT NULL DEFAULT '',
	consensus_score    REAL,
	confidence         REAL,
	variance           REAL,
	convergence_rounds INTEGER NOT NULL DEFAULT 0,
	error              TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_updated ON evaluations(updated_at DESC);

INSERT OR IGNORE INTO schema_migrations (version) VALUES (1);
`

// SQLiteStore persists evaluation records in a SQLite database.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
}

// NewSQLiteStore opens (creating if needed) the store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("applying state schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("applying state schema: %w", err)
	}
	return &SQLiteStore{dbPath: dbPath, db: db}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateEvaluation inserts req, replacing any earlier record with the same
// id. The summary columns are reset.
func (s *SQLiteStore) CreateEvaluation(ctx context.Context, req *core.EvaluationRequest) error {
	criteria, err := json.Marshal(req.Criteria)
	if err != nil {
		return core.ErrPersistence("encoding criteria").WithCause(err)
	}
	agents, err := json.Marshal(req.Agents)
	if err != nil {
		return core.ErrPersistence("encoding agents").WithCause(err)
	}
	var weights sql.NullString
	if len(req.Weights) > 0 {
		b, err := json.Marshal(req.Weights)
		if err != nil {
			return core.ErrPersistence("encoding weights").WithCause(err)
		}
		weights = sql.NullString{String: string(b), Valid: true}
	}

	created := req.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evaluations (id, content, criteria, agents, weights, algorithm, status, topic_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			criteria = excluded.criteria,
			agents = excluded.agents,
			weights = excluded.weights,
			algorithm = excluded.algorithm,
			status = excluded.status,
			topic_id = excluded.topic_id,
			result_algorithm = '',
			consensus_score = NULL,
			confidence = NULL,
			variance = NULL,
			convergence_rounds = 0,
			error = '',
			updated_at = excluded.updated_at`,
		req.ID, req.Content, string(criteria), string(agents), weights, req.Algorithm,
		string(req.Status), req.TopicID, created.UTC(), time.Now().UTC())
	if err != nil {
		return core.ErrPersistence("creating evaluation " + req.ID).WithCause(err)
	}
	return nil
}

// UpdateEvaluation records summary as the evaluation's latest state.
func (s *SQLiteStore) UpdateEvaluation(ctx context.Context, id string, summary core.EvaluationSummary) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evaluations SET
			status = ?, topic_id = ?, result_algorithm = ?, consensus_score = ?, confidence = ?,
			variance = ?, convergence_rounds = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		string(summary.Status), summary.TopicID, summary.Algorithm, summary.ConsensusScore,
		summary.Confidence, summary.Variance, summary.ConvergenceRounds, summary.Error,
		time.Now().UTC(), id)
	if err != nil {
		return core.ErrPersistence("updating evaluation " + id).WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.ErrPersistence("updating evaluation " + id).WithCause(err)
	}
	if n == 0 {
		return core.ErrEvaluationNotFound(id)
	}
	return nil
}

const selectColumns = `id, content, criteria, agents, weights, algorithm, status, topic_id,
	result_algorithm, consensus_score, confidence, variance, convergence_rounds, error, created_at, updated_at`

// GetEvaluation loads one record.
func (s *SQLiteStore) GetEvaluation(ctx context.Context, id string) (*core.EvaluationRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM evaluations WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrEvaluationNotFound(id)
	}
	if err != nil {
		return nil, core.ErrPersistence("loading evaluation " + id).WithCause(err)
	}
	return rec, nil
}

// ListEvaluations returns up to limit records, most recently updated first.
// A limit of zero or less returns everything.
func (s *SQLiteStore) ListEvaluations(ctx context.Context, limit int) ([]*core.EvaluationRecord, error) {
	query := "SELECT " + selectColumns + " FROM evaluations ORDER BY updated_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.ErrPersistence("listing evaluations").WithCause(err)
	}
	defer rows.Close()

	var out []*core.EvaluationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, core.ErrPersistence("scanning evaluation").WithCause(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrPersistence("listing evaluations").WithCause(err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*core.EvaluationRecord, error) {
	var (
		rec                         core.EvaluationRecord
		criteria, agents, status    string
		weights                     sql.NullString
		score, confidence, variance sql.NullFloat64
	)
	err := sc.Scan(&rec.Request.ID, &rec.Request.Content, &criteria, &agents, &weights,
		&rec.Request.Algorithm, &status, &rec.Request.TopicID, &rec.Summary.Algorithm, &score, &confidence, &variance,
		&rec.Summary.ConvergenceRounds, &rec.Summary.Error, &rec.Request.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(criteria), &rec.Request.Criteria); err != nil {
		return nil, fmt.Errorf("decoding criteria: %w", err)
	}
	if err := json.Unmarshal([]byte(agents), &rec.Request.Agents); err != nil {
		return nil, fmt.Errorf("decoding agents: %w", err)
	}
	if weights.Valid {
		if err := json.Unmarshal([]byte(weights.String), &rec.Request.Weights); err != nil {
			return nil, fmt.Errorf("decoding weights: %w", err)
		}
	}

	rec.Request.Status = core.EvaluationStatus(status)
	rec.Summary.Status = rec.Request.Status
	rec.Summary.TopicID = rec.Request.TopicID
	rec.Summary.ConsensusScore = score.Float64
	rec.Summary.Confidence = confidence.Float64
	rec.Summary.Variance = variance.Float64
	return &rec, nil
}
