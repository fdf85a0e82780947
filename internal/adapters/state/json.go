package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/fsutil"
)

// storeFileMode is the permission of the store file and its backup.
const storeFileMode = 0o600

// JSONStore keeps every evaluation record in one JSON file. Each write
// replaces the file atomically and keeps the previous version as a backup.
// Suited to single-process use.
type JSONStore struct {
	mu         sync.Mutex
	path       string
	backupPath string
}

// JSONStoreOption configures the store.
type JSONStoreOption func(*JSONStore)

// WithBackupPath sets the backup file path.
func WithBackupPath(path string) JSONStoreOption {
	return func(s *JSONStore) {
		s.backupPath = path
	}
}

// NewJSONStore creates a store at path. The file is created on first write.
func NewJSONStore(path string, opts ...JSONStoreOption) *JSONStore {
	s := &JSONStore{path: path, backupPath: path + ".bak"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// storeEnvelope wraps the records with an integrity checksum.
type storeEnvelope struct {
	Version   int                                `json:"version"`
	Checksum  string                             `json:"checksum"`
	UpdatedAt time.Time                          `json:"updated_at"`
	Records   map[string]*core.EvaluationRecord `json:"records"`
}

// CreateEvaluation stores req, replacing any earlier record with its id.
func (s *JSONStore) CreateEvaluation(_ context.Context, req *core.EvaluationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	rec := &core.EvaluationRecord{Request: *req, UpdatedAt: time.Now().UTC()}
	if rec.Request.CreatedAt.IsZero() {
		rec.Request.CreatedAt = rec.UpdatedAt
	}
	rec.Summary.Status = req.Status
	rec.Summary.TopicID = req.TopicID
	records[req.ID] = rec
	return s.save(records)
}

// UpdateEvaluation records summary as the evaluation's latest state.
func (s *JSONStore) UpdateEvaluation(_ context.Context, id string, summary core.EvaluationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	rec, ok := records[id]
	if !ok {
		return core.ErrEvaluationNotFound(id)
	}
	rec.Summary = summary
	rec.Request.Status = summary.Status
	if summary.TopicID != "" {
		rec.Request.TopicID = summary.TopicID
	}
	rec.UpdatedAt = time.Now().UTC()
	return s.save(records)
}

// GetEvaluation loads one record.
func (s *JSONStore) GetEvaluation(_ context.Context, id string) (*core.EvaluationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	rec, ok := records[id]
	if !ok {
		return nil, core.ErrEvaluationNotFound(id)
	}
	return rec, nil
}

// ListEvaluations returns up to limit records, most recently updated first.
func (s *JSONStore) ListEvaluations(_ context.Context, limit int) ([]*core.EvaluationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*core.EvaluationRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Request.ID < out[j].Request.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op; every write is already on disk.
func (s *JSONStore) Close() error {
	return nil
}

// Exists checks if the store file exists.
func (s *JSONStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// load reads the store, falling back to the backup when the main file is
// corrupt. A missing file is an empty store.
func (s *JSONStore) load() (map[string]*core.EvaluationRecord, error) {
	if !s.Exists() {
		return make(map[string]*core.EvaluationRecord), nil
	}
	records, err := loadFromPath(s.path)
	if err != nil {
		backup, backupErr := loadFromPath(s.backupPath)
		if backupErr != nil {
			return nil, core.ErrPersistence(fmt.Sprintf("loading store: %v (backup also failed: %v)", err, backupErr)).WithCause(err)
		}
		return backup, nil
	}
	return records, nil
}

func (s *JSONStore) save(records map[string]*core.EvaluationRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return core.ErrPersistence("creating state directory").WithCause(err)
	}
	if s.Exists() {
		if data, err := os.ReadFile(s.path); err == nil {
			if err := fsutil.WriteFileAtomic(s.backupPath, data, storeFileMode); err != nil {
				return core.ErrPersistence("writing backup").WithCause(err)
			}
		}
	}

	checksum, err := checksumOf(records)
	if err != nil {
		return core.ErrPersistence("encoding records").WithCause(err)
	}
	data, err := json.MarshalIndent(storeEnvelope{
		Version:   1,
		Checksum:  checksum,
		UpdatedAt: time.Now().UTC(),
		Records:   records,
	}, "", "  ")
	if err != nil {
		return core.ErrPersistence("encoding store").WithCause(err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, storeFileMode); err != nil {
		return core.ErrPersistence("writing store").WithCause(err)
	}
	return nil
}

func loadFromPath(path string) (map[string]*core.EvaluationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	var env storeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	if env.Records == nil {
		env.Records = make(map[string]*core.EvaluationRecord)
	}
	checksum, err := checksumOf(env.Records)
	if err != nil {
		return nil, err
	}
	if checksum != env.Checksum {
		return nil, core.ErrState("STORE_CORRUPTED", "checksum mismatch")
	}
	return env.Records, nil
}

func checksumOf(records map[string]*core.EvaluationRecord) (string, error) {
	b, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshaling records for checksum: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
