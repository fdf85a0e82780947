package testutil_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/adapters/ledger"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/testutil"
)

func TestMockJudge_Default(t *testing.T) {
	mock := testutil.NewMockJudge("alpha")
	testutil.AssertEqual(t, mock.Name(), "alpha")

	resp, err := mock.Evaluate(context.Background(), core.JudgeRequest{EvaluationID: "e1"})
	testutil.AssertNoError(t, err)
	testutil.AssertScore(t, resp.Score, 5.0)
	testutil.AssertEqual(t, mock.CallCount("Evaluate"), 1)
}

func TestMockJudge_WithScores(t *testing.T) {
	mock := testutil.NewMockJudge("beta").WithScores(map[int]float64{0: 3, 2: 7}, 0.5)
	ctx := context.Background()

	tests := []struct {
		round int
		want  float64
	}{
		{0, 3},
		{1, 3},
		{2, 7},
		{5, 7},
	}
	for _, tt := range tests {
		resp, err := mock.Evaluate(ctx, core.JudgeRequest{Round: tt.round})
		testutil.AssertNoError(t, err)
		if resp.Score != tt.want {
			t.Errorf("round %d: score = %v, want %v", tt.round, resp.Score, tt.want)
		}
	}
	testutil.AssertLen(t, mock.Calls(), 4)

	mock.Reset()
	testutil.AssertLen(t, mock.Calls(), 0)
}

func TestMockJudge_WithError(t *testing.T) {
	mock := testutil.NewMockJudge("gamma").WithError(testutil.ErrTest)
	_, err := mock.Evaluate(context.Background(), core.JudgeRequest{})
	if !errors.Is(err, testutil.ErrTest) {
		t.Fatalf("err = %v, want ErrTest", err)
	}
}

func TestMockRegistry(t *testing.T) {
	reg := testutil.NewMockRegistry(testutil.NewMockJudge("b"), testutil.NewMockJudge("a"))
	reg.Add(testutil.NewMockJudge("c"))

	names := reg.Names()
	testutil.AssertLen(t, names, 3)
	testutil.AssertEqual(t, names[0], "a")

	if _, err := reg.Get("missing"); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("Get(missing) err = %v, want not_found", err)
	}
}

func TestFlakyLog(t *testing.T) {
	ctx := context.Background()
	inner := ledger.NewMemoryLog()
	topic, err := inner.CreateTopic(ctx, "flaky")
	testutil.AssertNoError(t, err)

	log := testutil.NewFlakyLog(inner).FailFirst(1).FailAfter(2)

	_, err = log.Publish(ctx, topic, []byte("a"))
	testutil.AssertCode(t, err, core.CodeLogUnavailable)
	testutil.AssertTrue(t, core.IsRetryable(err), "injected error should be retryable")

	for i := 0; i < 2; i++ {
		_, err = log.Publish(ctx, topic, []byte("b"))
		testutil.AssertNoError(t, err)
	}
	_, err = log.Publish(ctx, topic, []byte("c"))
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, log.Failures(), 2)
	testutil.AssertEqual(t, inner.Len(topic), 2)
}

func TestMockStore(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMockStore()
	req := core.NewEvaluationRequest("e1", "content", []string{"clarity"}, []string{"a"})

	testutil.AssertNoError(t, store.CreateEvaluation(ctx, req))
	testutil.AssertNoError(t, store.UpdateEvaluation(ctx, "e1", core.EvaluationSummary{Status: core.EvaluationStatusCompleted}))

	rec, err := store.GetEvaluation(ctx, "e1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, rec.Summary.Status, core.EvaluationStatusCompleted)

	list, err := store.ListEvaluations(ctx, 10)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, list, 1)

	testutil.AssertCode(t, store.UpdateEvaluation(ctx, "missing", core.EvaluationSummary{}), core.CodeEvaluationNotFound)
	testutil.AssertLen(t, store.Updates(), 1)
}
