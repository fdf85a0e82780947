package orchestrator

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/adapters/ledger"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/codec"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/consensus"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/message"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/testutil"
)

type harness struct {
	log    *ledger.MemoryLog
	judges *testutil.MockRegistry
	cfg    Config
	opts   []Option
}

func newHarness(judges ...core.JudgeAgent) *harness {
	cfg := DefaultConfig()
	cfg.RoundTimeout = 2 * time.Second
	cfg.EvaluationTimeout = 10 * time.Second
	cfg.FinalizeTimeout = 2 * time.Second
	return &harness{
		log:    ledger.NewMemoryLog(),
		judges: testutil.NewMockRegistry(judges...),
		cfg:    cfg,
	}
}

func (h *harness) run(t *testing.T, req *core.EvaluationRequest) *Outcome {
	return h.runOn(t, h.log, req)
}

func (h *harness) runOn(t *testing.T, log core.OrderedLog, req *core.EvaluationRequest) *Outcome {
	t.Helper()
	opts := append([]Option{
		WithConfig(h.cfg),
		WithRetryPolicy(noSleep(NewRetryPolicy(WithMaxAttempts(3)))),
	}, h.opts...)
	o, err := New(log, h.judges, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o.Run(context.Background(), req)
}

func (h *harness) decoded(t *testing.T, topic string) []codec.Decoded {
	t.Helper()
	entries, err := h.log.ReadFrom(context.Background(), topic, 0)
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	return codec.DecodeAll(entries)
}

func request(agents ...string) *core.EvaluationRequest {
	return core.NewEvaluationRequest("eval-1", "The essay under review.", []string{"clarity", "accuracy"}, agents)
}

func typesOf(msgs []codec.Decoded) []message.Type {
	out := make([]message.Type, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Envelope.Type)
	}
	return out
}

func countType(msgs []codec.Decoded, typ message.Type) int {
	n := 0
	for _, m := range msgs {
		if m.Envelope.Type == typ {
			n++
		}
	}
	return n
}

func mustComplete(t *testing.T, out *Outcome) *core.ConsensusResult {
	t.Helper()
	if err := out.Err(); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !out.Completed() {
		t.Fatalf("Status = %s, want completed", out.Status)
	}
	return out.Consensus
}

func TestRun_IndependentScoresConverge(t *testing.T) {
	h := newHarness(
		testutil.NewMockJudge("a").WithScore(7, 0.9),
		testutil.NewMockJudge("b").WithScore(8, 0.9),
		testutil.NewMockJudge("c").WithScore(9, 0.9),
	)
	h.cfg.ConvergenceThreshold = 1.0

	out := h.run(t, request("a", "b", "c"))
	res := mustComplete(t, out)

	if res.FinalScore != 8.0 {
		t.Errorf("FinalScore = %v, want 8", res.FinalScore)
	}
	testutil.AssertScore(t, res.Variance, 2.0/3.0)
	if res.ConvergenceRounds != 1 {
		t.Errorf("ConvergenceRounds = %d, want 1", res.ConvergenceRounds)
	}
	if out.Phase != core.PhaseCompleted {
		t.Errorf("Phase = %s, want completed", out.Phase)
	}

	msgs := h.decoded(t, out.TopicID)
	want := []message.Type{message.TypeInitial, message.TypeScore, message.TypeScore, message.TypeScore, message.TypeFinal}
	got := typesOf(msgs)
	if len(got) != len(want) {
		t.Fatalf("log types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("log types = %v, want %v", got, want)
		}
	}

	payload, err := msgs[len(msgs)-1].Envelope.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	final := payload.(message.FinalPayload)
	scores, err := message.DecodeIndividualScores(final.Reasoning)
	if err != nil {
		t.Fatalf("DecodeIndividualScores() error = %v", err)
	}
	if scores["a"] != 7 || scores["c"] != 9 {
		t.Errorf("individual scores = %v", scores)
	}
}

func TestRun_HungAgentIsExcluded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	h := newHarness(
		testutil.NewMockJudge("agent1").WithScore(6, 0.8),
		testutil.NewMockJudge("agent2").WithHang(release),
		testutil.NewMockJudge("agent3").WithScore(8, 0.8),
	)
	h.cfg.RoundTimeout = 50 * time.Millisecond
	h.cfg.EnableDiscussion = false

	out := h.run(t, request("agent1", "agent2", "agent3"))
	res := mustComplete(t, out)

	if _, ok := res.IndividualScores["agent2"]; ok {
		t.Error("agent2 should be absent from individual scores")
	}
	if len(res.IndividualScores) != 2 {
		t.Errorf("IndividualScores = %v, want 2 entries", res.IndividualScores)
	}
	if res.Variance != 1.0 {
		t.Errorf("Variance = %v, want 1 (over the two responders)", res.Variance)
	}
	if len(out.Rounds) != 1 || len(out.Rounds[0].Abstained) != 1 || out.Rounds[0].Abstained[0] != "agent2" {
		t.Errorf("round 0 abstentions = %+v", out.Rounds)
	}
	if out.Rounds[0].Participants != 2 {
		t.Errorf("Participants = %d, want 2", out.Rounds[0].Participants)
	}
	found := false
	for _, w := range out.Warnings {
		if strings.Contains(w, "agent2") && strings.Contains(w, core.CodeAgentTimeout) {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want an agent2 timeout", out.Warnings)
	}
}

func TestRun_MaxRoundsOneStopsAfterScoring(t *testing.T) {
	a := testutil.NewMockJudge("a").WithScore(1, 0.5)
	b := testutil.NewMockJudge("b").WithScore(9, 0.5)
	h := newHarness(a, b)
	h.cfg.MaxDiscussionRounds = 1
	h.cfg.ConvergenceThreshold = 0

	res := mustComplete(t, h.run(t, request("a", "b")))

	if res.ConvergenceRounds != 1 {
		t.Errorf("ConvergenceRounds = %d, want 1", res.ConvergenceRounds)
	}
	if a.CallCount("Evaluate") != 1 || b.CallCount("Evaluate") != 1 {
		t.Error("each judge should be asked exactly once")
	}
}

func TestRun_RoundsNeverExceedMax(t *testing.T) {
	for _, max := range []int{1, 2, 3, 5} {
		a := testutil.NewMockJudge("a").WithScore(0, 0.5)
		b := testutil.NewMockJudge("b").WithScore(10, 0.5)
		h := newHarness(a, b)
		h.cfg.MaxDiscussionRounds = max

		out := h.run(t, request("a", "b"))
		res := mustComplete(t, out)
		if res.ConvergenceRounds != max {
			t.Errorf("max=%d: ConvergenceRounds = %d", max, res.ConvergenceRounds)
		}
		if len(out.Rounds) != max {
			t.Errorf("max=%d: %d rounds recorded", max, len(out.Rounds))
		}
		if a.CallCount("Evaluate") != max {
			t.Errorf("max=%d: judge asked %d times", max, a.CallCount("Evaluate"))
		}
	}
}

func TestRun_DiscussionAdjustsScores(t *testing.T) {
	a := testutil.NewMockJudge("a").WithScores(map[int]float64{0: 4, 1: 6}, 0.8)
	b := testutil.NewMockJudge("b").WithScores(map[int]float64{0: 8, 1: 6}, 0.8)
	c := testutil.NewMockJudge("c").WithScore(6, 0.8)
	h := newHarness(a, b, c)

	out := h.run(t, request("a", "b", "c"))
	res := mustComplete(t, out)

	if res.ConvergenceRounds != 2 {
		t.Fatalf("ConvergenceRounds = %d, want 2", res.ConvergenceRounds)
	}
	if res.FinalScore != 6 || res.Variance != 0 {
		t.Errorf("result = %v / %v, want 6 / 0", res.FinalScore, res.Variance)
	}
	if out.Rounds[0].Variance <= h.cfg.ConvergenceThreshold {
		t.Errorf("round 0 variance = %v, should be above threshold", out.Rounds[0].Variance)
	}

	msgs := h.decoded(t, out.TopicID)
	if n := countType(msgs, message.TypeAdjustment); n != 2 {
		t.Errorf("adjustments = %d, want 2", n)
	}
	if n := countType(msgs, message.TypeDiscussion); n != 1 {
		t.Errorf("discussions = %d, want 1", n)
	}
	for _, m := range msgs {
		if m.Envelope.Type == message.TypeAdjustment && m.Envelope.RoundNumber != 1 {
			t.Errorf("adjustment in round %d, want 1", m.Envelope.RoundNumber)
		}
	}

	calls := a.Calls()
	if len(calls) != 2 {
		t.Fatalf("judge a called %d times, want 2", len(calls))
	}
	peer := calls[1].Request.Peer
	if peer == nil {
		t.Fatal("discussion request should carry peer context")
	}
	if peer.OwnScore != 4 || peer.PreviousRound != 0 {
		t.Errorf("peer context = %+v", peer)
	}
	if len(peer.Peers) != 2 {
		t.Errorf("peers = %d, want the two other judges", len(peer.Peers))
	}
	for _, p := range peer.Peers {
		if p.AgentID == "a" {
			t.Error("a judge should not see itself as a peer")
		}
	}
	if peer.Distribution.Count != 3 || peer.Distribution.Median != 6 {
		t.Errorf("distribution = %+v", peer.Distribution)
	}
}

func TestRun_MinDiscussionRoundsForcesDiscussion(t *testing.T) {
	a := testutil.NewMockJudge("a").WithScore(7, 0.9)
	b := testutil.NewMockJudge("b").WithScore(7, 0.9)
	h := newHarness(a, b)
	h.cfg.MinDiscussionRounds = 1

	res := mustComplete(t, h.run(t, request("a", "b")))
	if res.ConvergenceRounds != 2 {
		t.Errorf("ConvergenceRounds = %d, want 2", res.ConvergenceRounds)
	}
}

func TestRun_DelphiKeepsPeersAnonymous(t *testing.T) {
	a := testutil.NewMockJudge("a").WithScores(map[int]float64{0: 4, 1: 6}, 0.8)
	b := testutil.NewMockJudge("b").WithScores(map[int]float64{0: 8, 1: 6}, 0.8)
	c := testutil.NewMockJudge("c").WithScore(6, 0.8)
	h := newHarness(a, b, c)
	h.cfg.Algorithm = consensus.DelphiMethod

	out := h.run(t, request("a", "b", "c"))
	res := mustComplete(t, out)

	if res.Algorithm != string(consensus.DelphiMethod) {
		t.Errorf("Algorithm = %s", res.Algorithm)
	}
	for _, judge := range []*testutil.MockJudge{a, b, c} {
		calls := judge.Calls()
		peer := calls[len(calls)-1].Request.Peer
		if peer == nil {
			t.Fatalf("%s: missing peer context", judge.Name())
		}
		if len(peer.Peers) != 0 {
			t.Errorf("%s: saw %d named peers, want none", judge.Name(), len(peer.Peers))
		}
		if peer.Distribution.Count != 3 {
			t.Errorf("%s: distribution count = %d", judge.Name(), peer.Distribution.Count)
		}
	}
	if len(out.VarianceTrend) != 2 {
		t.Fatalf("VarianceTrend = %v, want 2 entries", out.VarianceTrend)
	}
	if out.VarianceTrend[1] >= out.VarianceTrend[0] {
		t.Errorf("VarianceTrend = %v, want decreasing", out.VarianceTrend)
	}
}

func TestRun_DelphiWarnsWhenVarianceDoesNotShrink(t *testing.T) {
	h := newHarness(
		testutil.NewMockJudge("a").WithScore(2, 0.9),
		testutil.NewMockJudge("b").WithScore(8, 0.9),
		testutil.NewMockJudge("c").WithScore(9, 0.9),
		testutil.NewMockJudge("d").WithScore(7, 0.9),
	)
	h.cfg.Algorithm = consensus.DelphiMethod
	h.cfg.OutlierDetection = true
	h.cfg.ConvergenceThreshold = 0.1
	h.cfg.MaxDiscussionRounds = 2

	out := h.run(t, request("a", "b", "c", "d"))
	mustComplete(t, out)

	if len(out.VarianceTrend) != 2 {
		t.Fatalf("VarianceTrend = %v, want 2 entries", out.VarianceTrend)
	}
	for i, v := range out.VarianceTrend {
		testutil.AssertScore(t, v, out.Rounds[i].Variance)
	}
	found := false
	for _, w := range out.Warnings {
		if strings.Contains(w, "did not shrink") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want a non-converging delphi warning", out.Warnings)
	}
}

func TestRun_RequestAlgorithmOverride(t *testing.T) {
	h := newHarness(
		testutil.NewMockJudge("a").WithScore(2, 0.9),
		testutil.NewMockJudge("b").WithScore(8, 0.9),
		testutil.NewMockJudge("c").WithScore(9, 0.9),
	)
	h.cfg.EnableDiscussion = false
	req := request("a", "b", "c")
	req.Algorithm = string(consensus.Median)

	res := mustComplete(t, h.run(t, req))
	if res.FinalScore != 8 || res.Algorithm != string(consensus.Median) {
		t.Errorf("result = %+v, want median 8", res)
	}
}

func TestRun_OutliersExcluded(t *testing.T) {
	h := newHarness(
		testutil.NewMockJudge("a").WithScore(2, 0.9),
		testutil.NewMockJudge("b").WithScore(8, 0.9),
		testutil.NewMockJudge("c").WithScore(9, 0.9),
		testutil.NewMockJudge("d").WithScore(8, 0.9),
	)
	h.cfg.Algorithm = consensus.Median
	h.cfg.OutlierDetection = true
	h.cfg.EnableDiscussion = false

	res := mustComplete(t, h.run(t, request("a", "b", "c", "d")))
	if len(res.Outliers) != 1 || res.Outliers[0] != "a" {
		t.Errorf("Outliers = %v, want [a]", res.Outliers)
	}
	if res.IndividualScores["a"] != 2 {
		t.Errorf("individual score for a = %v, want 2", res.IndividualScores["a"])
	}
	if res.FinalScore != 8 {
		t.Errorf("FinalScore = %v, want 8", res.FinalScore)
	}
}

func TestRun_NoUsableScoresFails(t *testing.T) {
	h := newHarness(
		testutil.NewMockJudge("a").WithError(testutil.ErrTest),
		testutil.NewMockJudge("b").WithError(testutil.ErrTest),
	)

	out := h.run(t, request("a", "b"))
	if out.Status != core.EvaluationStatusFailed {
		t.Fatalf("Status = %s, want failed", out.Status)
	}
	testutil.AssertCode(t, out.Err(), core.CodeNoUsableScores)
	if out.Phase != core.PhaseFailed {
		t.Errorf("Phase = %s, want failed", out.Phase)
	}

	msgs := h.decoded(t, out.TopicID)
	if len(msgs) == 0 || msgs[len(msgs)-1].Envelope.Type != message.TypeError {
		t.Fatalf("log types = %v, want a trailing error event", typesOf(msgs))
	}
	if countType(msgs, message.TypeFinal) != 0 {
		t.Error("failed evaluation must not publish a final event")
	}
}

func TestRun_UnknownAgentAbstains(t *testing.T) {
	h := newHarness(testutil.NewMockJudge("a").WithScore(7, 0.9))

	out := h.run(t, request("a", "ghost"))
	res := mustComplete(t, out)
	if len(res.IndividualScores) != 1 {
		t.Errorf("IndividualScores = %v", res.IndividualScores)
	}
	if len(out.Rounds[0].Abstained) != 1 || out.Rounds[0].Abstained[0] != "ghost" {
		t.Errorf("abstained = %v, want [ghost]", out.Rounds[0].Abstained)
	}
	found := false
	for _, w := range out.Warnings {
		if strings.Contains(w, core.CodeAgentUnavailable) {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want AGENT_UNAVAILABLE", out.Warnings)
	}
}

func TestRun_InvalidScores(t *testing.T) {
	h := newHarness(
		testutil.NewMockJudge("high").WithScore(15, 0.9),
		testutil.NewMockJudge("nan").WithScore(math.NaN(), 0.9),
		testutil.NewMockJudge("ok").WithScore(10, 0.9),
	)
	h.cfg.EnableDiscussion = false

	out := h.run(t, request("high", "nan", "ok"))
	res := mustComplete(t, out)

	if res.IndividualScores["high"] != 10 {
		t.Errorf("high score = %v, want clamped to 10", res.IndividualScores["high"])
	}
	if _, ok := res.IndividualScores["nan"]; ok {
		t.Error("non-finite score should abstain")
	}
	if len(out.Rounds[0].Abstained) != 1 || out.Rounds[0].Abstained[0] != "nan" {
		t.Errorf("abstained = %v, want [nan]", out.Rounds[0].Abstained)
	}
}

func TestRun_InvalidRequest(t *testing.T) {
	h := newHarness(testutil.NewMockJudge("a"))

	tests := []struct {
		name     string
		req      *core.EvaluationRequest
		wantCode string
	}{
		{"nil", nil, core.CodeInvalidConfig},
		{"empty content", core.NewEvaluationRequest("e", " ", []string{"c"}, []string{"a"}), core.CodeEmptyContent},
		{"no agents", core.NewEvaluationRequest("e", "text", []string{"c"}, nil), core.CodeNoAgents},
		{"bad algorithm", func() *core.EvaluationRequest {
			r := request("a")
			r.Algorithm = "coin_flip"
			return r
		}(), core.CodeUnsupportedAlgorithm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := h.run(t, tt.req)
			if out.Status != core.EvaluationStatusFailed {
				t.Fatalf("Status = %s, want failed", out.Status)
			}
			if got := core.GetCode(out.Err()); got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
			if out.TopicID != "" {
				t.Error("no topic should be created for an invalid request")
			}
		})
	}
}

func TestRun_ReusesExistingTopic(t *testing.T) {
	h := newHarness(testutil.NewMockJudge("a").WithScore(5, 0.5))
	topic, err := h.log.CreateTopic(context.Background(), "shared")
	if err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}
	req := request("a")
	req.TopicID = topic

	out := h.run(t, req)
	mustComplete(t, out)
	if out.TopicID != topic {
		t.Errorf("TopicID = %s, want %s", out.TopicID, topic)
	}
}

func TestRun_PublishRetriesExhaustedFails(t *testing.T) {
	h := newHarness(
		testutil.NewMockJudge("a").WithScore(5, 0.5),
		testutil.NewMockJudge("b").WithScore(6, 0.5),
	)
	flaky := testutil.NewFlakyLog(h.log).FailAfter(2)

	out := h.runOn(t, flaky, request("a", "b"))
	if out.Status != core.EvaluationStatusFailed {
		t.Fatalf("Status = %s, want failed", out.Status)
	}
	testutil.AssertCode(t, out.Err(), core.CodeLogPublishFailed)
	if out.Consensus != nil {
		t.Error("failed evaluation should carry no consensus")
	}
}

func TestRun_OversizedContentFailsBeforeScoring(t *testing.T) {
	a := testutil.NewMockJudge("a").WithScore(5, 0.5)
	h := newHarness(a, testutil.NewMockJudge("b").WithScore(6, 0.5))
	h.cfg.ChunkThreshold = 64
	h.cfg.MaxChunks = 4

	req := request("a", "b")
	req.Content = strings.Repeat("long essay ", 100)
	out := h.run(t, req)

	if out.Status != core.EvaluationStatusFailed {
		t.Fatalf("Status = %s, want failed", out.Status)
	}
	testutil.AssertCode(t, out.Err(), core.CodeEntryTooLarge)
	if len(a.Calls()) != 0 {
		t.Errorf("judge called %d times, want none", len(a.Calls()))
	}
	msgs := h.decoded(t, out.TopicID)
	if len(msgs) != 1 || !msgs[0].IsError() {
		t.Fatalf("topic = %v, want a single error message", typesOf(msgs))
	}
}

func TestRun_TransientPublishFailuresRecover(t *testing.T) {
	h := newHarness(
		testutil.NewMockJudge("a").WithScore(5, 0.5),
		testutil.NewMockJudge("b").WithScore(5, 0.5),
	)
	flaky := testutil.NewFlakyLog(h.log).FailFirst(2)

	mustComplete(t, h.runOn(t, flaky, request("a", "b")))
	if flaky.Failures() != 2 {
		t.Errorf("Failures() = %d, want 2", flaky.Failures())
	}
}

func TestRun_PersistsSummary(t *testing.T) {
	store := testutil.NewMockStore()
	h := newHarness(
		testutil.NewMockJudge("a").WithScore(6, 0.5),
		testutil.NewMockJudge("b").WithScore(6, 0.5),
	)
	h.opts = append(h.opts, WithStore(store))

	out := h.run(t, request("a", "b"))
	res := mustComplete(t, out)

	rec, err := store.GetEvaluation(context.Background(), "eval-1")
	if err != nil {
		t.Fatalf("GetEvaluation() error = %v", err)
	}
	if rec.Summary.Status != core.EvaluationStatusCompleted {
		t.Errorf("stored status = %s", rec.Summary.Status)
	}
	if rec.Summary.ConsensusScore != res.FinalScore || rec.Summary.TopicID != out.TopicID {
		t.Errorf("stored summary = %+v", rec.Summary)
	}
	updates := store.Updates()
	if len(updates) != 2 || updates[0].Status != core.EvaluationStatusProcessing {
		t.Errorf("updates = %+v, want processing then completed", updates)
	}
}

func TestRun_PersistenceFailureIsAWarning(t *testing.T) {
	store := testutil.NewMockStore().WithUpdateError(core.ErrPersistence("disk full"))
	h := newHarness(testutil.NewMockJudge("a").WithScore(6, 0.5))
	h.opts = append(h.opts, WithStore(store))

	out := h.run(t, request("a"))
	mustComplete(t, out)

	found := false
	for _, w := range out.Warnings {
		if strings.Contains(w, "persistence failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want a persistence warning", out.Warnings)
	}
}

func TestRun_DeadlineCompletesWithGatheredScores(t *testing.T) {
	slowAfterScoring := func(score float64) *testutil.MockJudge {
		return testutil.NewMockJudge("").WithEvaluateFunc(func(ctx context.Context, req core.JudgeRequest) (core.JudgeResponse, error) {
			if req.Round == 0 {
				return core.JudgeResponse{Score: score, Confidence: 0.5}, nil
			}
			<-ctx.Done()
			return core.JudgeResponse{}, ctx.Err()
		})
	}
	a := slowAfterScoring(0)
	b := slowAfterScoring(10)
	h := newHarness()
	h.judges = testutil.NewMockRegistry()
	h.judges.Add(named{"a", a})
	h.judges.Add(named{"b", b})
	h.cfg.EvaluationTimeout = 100 * time.Millisecond
	h.cfg.RoundTimeout = time.Second

	out := h.run(t, request("a", "b"))
	res := mustComplete(t, out)

	if !out.DeadlineReached {
		t.Error("DeadlineReached should be set")
	}
	if res.FinalScore != 5 {
		t.Errorf("FinalScore = %v, want 5 from round 0 scores", res.FinalScore)
	}
	if countType(h.decoded(t, out.TopicID), message.TypeFinal) != 1 {
		t.Error("final event should still be published after the deadline")
	}
}

func TestRun_EmitsProgressEvents(t *testing.T) {
	bus := events.New(64)
	defer bus.Close()
	completed := bus.SubscribePriority(events.TypeEvaluationCompleted)
	phases := bus.Subscribe(events.TypePhaseChanged)

	h := newHarness(testutil.NewMockJudge("a").WithScore(5, 0.5))
	h.opts = append(h.opts, WithEventBus(bus))

	mustComplete(t, h.run(t, request("a")))

	select {
	case ev := <-completed:
		done := ev.(events.EvaluationCompletedEvent)
		if done.Status != string(core.EvaluationStatusCompleted) || done.EvaluationID() != "eval-1" {
			t.Errorf("completed event = %+v", done)
		}
	case <-time.After(time.Second):
		t.Fatal("no completion event")
	}

	var seen []string
	for len(phases) > 0 {
		ev := <-phases
		seen = append(seen, ev.(events.PhaseChangedEvent).To)
	}
	want := []string{"scoring", "converging", "completed"}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Errorf("phases = %v, want %v", seen, want)
	}
}

func TestOutcome_MarshalJSON(t *testing.T) {
	h := newHarness(testutil.NewMockJudge("a").WithError(testutil.ErrTest))
	out := h.run(t, request("a"))

	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["status"] != "failed" {
		t.Errorf("status = %v", decoded["status"])
	}
	errObj, ok := decoded["error"].(map[string]interface{})
	if !ok || errObj["code"] != core.CodeNoUsableScores {
		t.Errorf("error = %v", decoded["error"])
	}
	if _, ok := decoded["evaluationRounds"].([]interface{}); !ok {
		t.Error("evaluationRounds should be an array")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(nil, testutil.NewMockRegistry()); err == nil {
		t.Error("New(nil log) should fail")
	}
	if _, err := New(ledger.NewMemoryLog(), nil); err == nil {
		t.Error("New(nil registry) should fail")
	}
	cfg := DefaultConfig()
	cfg.MaxParallelAgents = 0
	if _, err := New(ledger.NewMemoryLog(), testutil.NewMockRegistry(), WithConfig(cfg)); err == nil {
		t.Error("New() with invalid config should fail")
	}
}

// named gives an anonymous mock judge a registry name.
type named struct {
	name string
	*testutil.MockJudge
}

func (n named) Name() string { return n.name }
