package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// MockJudge implements core.JudgeAgent for testing.
type MockJudge struct {
	name         string
	evaluateFunc func(context.Context, core.JudgeRequest) (core.JudgeResponse, error)
	calls        []MockCall
	mu           sync.Mutex
}

// MockCall records a call to the mock.
type MockCall struct {
	Method    string
	Request   core.JudgeRequest
	Timestamp time.Time
}

// NewMockJudge creates a judge that always scores 5 with confidence 0.8.
func NewMockJudge(name string) *MockJudge {
	return &MockJudge{name: name}
}

// Name returns the mock name.
func (m *MockJudge) Name() string {
	return m.name
}

// Evaluate mocks a judge call.
func (m *MockJudge) Evaluate(ctx context.Context, req core.JudgeRequest) (core.JudgeResponse, error) {
	m.recordCall("Evaluate", req)
	if m.evaluateFunc != nil {
		return m.evaluateFunc(ctx, req)
	}
	return core.JudgeResponse{
		Score:      5,
		Confidence: 0.8,
		Reasoning:  fmt.Sprintf("mock reasoning from %s", m.name),
	}, nil
}

// WithEvaluateFunc sets a custom evaluate function.
func (m *MockJudge) WithEvaluateFunc(fn func(context.Context, core.JudgeRequest) (core.JudgeResponse, error)) *MockJudge {
	m.evaluateFunc = fn
	return m
}

// WithScore configures a fixed score for every round.
func (m *MockJudge) WithScore(score, confidence float64) *MockJudge {
	return m.WithScores(map[int]float64{0: score}, confidence)
}

// WithScores answers per round. Rounds not in the map reuse the score of
// the highest round below them.
func (m *MockJudge) WithScores(byRound map[int]float64, confidence float64) *MockJudge {
	m.evaluateFunc = func(ctx context.Context, req core.JudgeRequest) (core.JudgeResponse, error) {
		score, best := 0.0, -1
		for r, s := range byRound {
			if r <= req.Round && r > best {
				score, best = s, r
			}
		}
		return core.JudgeResponse{
			Score:      score,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("%s round %d", m.name, req.Round),
		}, nil
	}
	return m
}

// WithError configures the mock to return an error.
func (m *MockJudge) WithError(err error) *MockJudge {
	m.evaluateFunc = func(ctx context.Context, req core.JudgeRequest) (core.JudgeResponse, error) {
		return core.JudgeResponse{}, err
	}
	return m
}

// WithHang blocks until release is closed, ignoring the context.
func (m *MockJudge) WithHang(release <-chan struct{}) *MockJudge {
	m.evaluateFunc = func(ctx context.Context, req core.JudgeRequest) (core.JudgeResponse, error) {
		<-release
		return core.JudgeResponse{Score: 0, Confidence: 0}, nil
	}
	return m
}

// Calls returns recorded calls.
func (m *MockJudge) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.calls...)
}

// CallCount returns number of calls to a method.
func (m *MockJudge) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears call history.
func (m *MockJudge) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MockJudge) recordCall(method string, req core.JudgeRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:    method,
		Request:   req,
		Timestamp: time.Now(),
	})
}

// MockRegistry implements core.JudgeRegistry for testing.
type MockRegistry struct {
	judges map[string]core.JudgeAgent
	mu     sync.RWMutex
}

// NewMockRegistry creates a registry holding judges.
func NewMockRegistry(judges ...core.JudgeAgent) *MockRegistry {
	r := &MockRegistry{judges: make(map[string]core.JudgeAgent)}
	for _, j := range judges {
		r.judges[j.Name()] = j
	}
	return r
}

// Add registers a judge.
func (r *MockRegistry) Add(judge core.JudgeAgent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.judges[judge.Name()] = judge
}

// Get returns a judge by name.
func (r *MockRegistry) Get(name string) (core.JudgeAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.judges[name]
	if !ok {
		return nil, core.ErrNotFound("judge", name)
	}
	return j, nil
}

// Names returns registered judge names, sorted.
func (r *MockRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.judges))
	for name := range r.judges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FlakyLog wraps an OrderedLog and fails publishes on demand.
type FlakyLog struct {
	core.OrderedLog
	mu sync.Mutex
	// failFirst fails this many publishes before passing through.
	failFirst int
	// failAfter fails every publish once this many have succeeded; -1 disables.
	failAfter int
	succeeded int
	failures  int
	err       error
}

// NewFlakyLog wraps inner. It passes everything through until configured.
func NewFlakyLog(inner core.OrderedLog) *FlakyLog {
	return &FlakyLog{
		OrderedLog: inner,
		failAfter:  -1,
		err:        core.ErrTransport(core.CodeLogUnavailable, "log unavailable"),
	}
}

// FailFirst fails the next n publishes with a retryable transport error.
func (f *FlakyLog) FailFirst(n int) *FlakyLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFirst = n
	return f
}

// FailAfter lets n publishes succeed and fails every later one.
func (f *FlakyLog) FailAfter(n int) *FlakyLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAfter = n
	return f
}

// Failures returns how many publishes were rejected.
func (f *FlakyLog) Failures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

// Publish fails or delegates.
func (f *FlakyLog) Publish(ctx context.Context, topicID string, payload []byte) (int64, error) {
	f.mu.Lock()
	if f.failFirst > 0 {
		f.failFirst--
		f.failures++
		f.mu.Unlock()
		return 0, f.err
	}
	if f.failAfter >= 0 && f.succeeded >= f.failAfter {
		f.failures++
		f.mu.Unlock()
		return 0, f.err
	}
	f.succeeded++
	f.mu.Unlock()
	return f.OrderedLog.Publish(ctx, topicID, payload)
}

// MockStore implements core.EvaluationStore in memory.
type MockStore struct {
	records   map[string]*core.EvaluationRecord
	createErr error
	updateErr error
	updates   []core.EvaluationSummary
	mu        sync.Mutex
}

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{records: make(map[string]*core.EvaluationRecord)}
}

// WithCreateError makes CreateEvaluation fail.
func (m *MockStore) WithCreateError(err error) *MockStore {
	m.createErr = err
	return m
}

// WithUpdateError makes UpdateEvaluation fail.
func (m *MockStore) WithUpdateError(err error) *MockStore {
	m.updateErr = err
	return m
}

// CreateEvaluation stores req.
func (m *MockStore) CreateEvaluation(ctx context.Context, req *core.EvaluationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	copied := *req
	m.records[req.ID] = &core.EvaluationRecord{Request: copied, UpdatedAt: time.Now()}
	return nil
}

// UpdateEvaluation records summary.
func (m *MockStore) UpdateEvaluation(ctx context.Context, id string, summary core.EvaluationSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	rec, ok := m.records[id]
	if !ok {
		return core.ErrEvaluationNotFound(id)
	}
	rec.Summary = summary
	rec.Request.Status = summary.Status
	rec.UpdatedAt = time.Now()
	m.updates = append(m.updates, summary)
	return nil
}

// GetEvaluation returns a stored record.
func (m *MockStore) GetEvaluation(ctx context.Context, id string) (*core.EvaluationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, core.ErrEvaluationNotFound(id)
	}
	copied := *rec
	return &copied, nil
}

// ListEvaluations returns records, newest update first.
func (m *MockStore) ListEvaluations(ctx context.Context, limit int) ([]*core.EvaluationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.EvaluationRecord, 0, len(m.records))
	for _, rec := range m.records {
		copied := *rec
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Updates returns every summary written, in order.
func (m *MockStore) Updates() []core.EvaluationSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.EvaluationSummary{}, m.updates...)
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
