package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

func backends(t *testing.T) map[string]func(t *testing.T) core.EvaluationStore {
	return map[string]func(t *testing.T) core.EvaluationStore{
		"sqlite": func(t *testing.T) core.EvaluationStore {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"json": func(t *testing.T) core.EvaluationStore {
			return NewJSONStore(filepath.Join(t.TempDir(), "state.json"))
		},
	}
}

func sampleRequest(id string) *core.EvaluationRequest {
	return &core.EvaluationRequest{
		ID:        id,
		Content:   "The mitochondria is the powerhouse of the cell.",
		Criteria:  []string{"accuracy", "clarity"},
		Agents:    []string{"a", "b", "c"},
		Status:    core.EvaluationStatusProcessing,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Algorithm: "median",
		Weights:   map[string]float64{"a": 2},
	}
}

func TestStore_Contract(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("create and get", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				require.NoError(t, s.CreateEvaluation(ctx, sampleRequest("e1")))

				rec, err := s.GetEvaluation(ctx, "e1")
				require.NoError(t, err)
				assert.Equal(t, "e1", rec.Request.ID)
				assert.Equal(t, []string{"accuracy", "clarity"}, rec.Request.Criteria)
				assert.Equal(t, []string{"a", "b", "c"}, rec.Request.Agents)
				assert.Equal(t, map[string]float64{"a": 2}, rec.Request.Weights)
				assert.Equal(t, "median", rec.Request.Algorithm)
				assert.Equal(t, core.EvaluationStatusProcessing, rec.Request.Status)
				assert.True(t, rec.Request.CreatedAt.Equal(sampleRequest("e1").CreatedAt))
			})

			t.Run("update records summary", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				require.NoError(t, s.CreateEvaluation(ctx, sampleRequest("e1")))

				summary := core.EvaluationSummary{
					ConsensusScore:    7.5,
					Confidence:        0.8,
					Variance:          0.25,
					ConvergenceRounds: 2,
					Algorithm:         "trimmed_mean",
					Status:            core.EvaluationStatusCompleted,
					TopicID:           "mem-1",
				}
				require.NoError(t, s.UpdateEvaluation(ctx, "e1", summary))

				rec, err := s.GetEvaluation(ctx, "e1")
				require.NoError(t, err)
				assert.Equal(t, summary, rec.Summary)
				assert.Equal(t, core.EvaluationStatusCompleted, rec.Request.Status)
				assert.Equal(t, "mem-1", rec.Request.TopicID)
			})

			t.Run("failure summary keeps error", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				require.NoError(t, s.CreateEvaluation(ctx, sampleRequest("e1")))
				require.NoError(t, s.UpdateEvaluation(ctx, "e1", core.EvaluationSummary{
					Status: core.EvaluationStatusFailed,
					Error:  "NO_USABLE_SCORES",
				}))

				rec, err := s.GetEvaluation(ctx, "e1")
				require.NoError(t, err)
				assert.Equal(t, core.EvaluationStatusFailed, rec.Summary.Status)
				assert.Equal(t, "NO_USABLE_SCORES", rec.Summary.Error)
			})

			t.Run("create replaces earlier record", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				require.NoError(t, s.CreateEvaluation(ctx, sampleRequest("e1")))
				require.NoError(t, s.UpdateEvaluation(ctx, "e1", core.EvaluationSummary{
					ConsensusScore: 9,
					Status:         core.EvaluationStatusCompleted,
				}))

				again := sampleRequest("e1")
				again.Content = "revised"
				require.NoError(t, s.CreateEvaluation(ctx, again))

				rec, err := s.GetEvaluation(ctx, "e1")
				require.NoError(t, err)
				assert.Equal(t, "revised", rec.Request.Content)
				assert.Equal(t, core.EvaluationStatusProcessing, rec.Request.Status)
				assert.Zero(t, rec.Summary.ConsensusScore)
			})

			t.Run("missing", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				_, err := s.GetEvaluation(ctx, "nope")
				assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

				err = s.UpdateEvaluation(ctx, "nope", core.EvaluationSummary{Status: core.EvaluationStatusFailed})
				assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
			})

			t.Run("list newest first", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				for _, id := range []string{"e1", "e2", "e3"} {
					require.NoError(t, s.CreateEvaluation(ctx, sampleRequest(id)))
					time.Sleep(5 * time.Millisecond)
				}
				require.NoError(t, s.UpdateEvaluation(ctx, "e1", core.EvaluationSummary{Status: core.EvaluationStatusCompleted}))

				all, err := s.ListEvaluations(ctx, 0)
				require.NoError(t, err)
				require.Len(t, all, 3)
				assert.Equal(t, "e1", all[0].Request.ID)
				assert.Equal(t, "e3", all[1].Request.ID)

				two, err := s.ListEvaluations(ctx, 2)
				require.NoError(t, err)
				assert.Len(t, two, 2)
			})
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateEvaluation(context.Background(), sampleRequest("e1")))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.GetEvaluation(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", rec.Request.ID)
	assert.Equal(t, path, reopened.Path())
}

func TestJSONStore_FallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewJSONStore(path)
	ctx := context.Background()

	require.NoError(t, s.CreateEvaluation(ctx, sampleRequest("e1")))
	require.NoError(t, s.CreateEvaluation(ctx, sampleRequest("e2")))

	// corrupt the main file; the backup holds the state before e2
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o600))

	rec, err := s.GetEvaluation(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", rec.Request.ID)

	_, err = s.GetEvaluation(ctx, "e2")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestJSONStore_BothCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	_, err := NewJSONStore(path).ListEvaluations(context.Background(), 0)
	assert.Equal(t, core.CodePersistenceFailed, core.GetCode(err))
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore("", filepath.Join(dir, "evals.json"))
	require.NoError(t, err)
	assert.IsType(t, &JSONStore{}, s)

	s, err = NewStore("", filepath.Join(dir, "evals"))
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, s)
	assert.Equal(t, filepath.Join(dir, "evals.db"), s.(*SQLiteStore).Path())
	require.NoError(t, s.Close())

	_, err = NewStore("postgres", filepath.Join(dir, "x"))
	assert.Equal(t, core.CodeInvalidConfig, core.GetCode(err))

	_, err = NewStore("sqlite", "")
	assert.Equal(t, core.CodeInvalidConfig, core.GetCode(err))
}
