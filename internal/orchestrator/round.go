package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// judgeResult is one agent's answer (or failure) for a round.
type judgeResult struct {
	agent   string
	resp    core.JudgeResponse
	err     error
	elapsed time.Duration
}

// roundHandler receives each result as it arrives, on the collector
// goroutine. Returning an error aborts the round.
type roundHandler func(res judgeResult) error

// fanOut asks every agent concurrently and feeds results to handle in
// arrival order. It returns when all agents answered or the round deadline
// passed; agents still running at that point are reported as timed out
// whether or not they honor cancellation.
func (r *run) fanOut(ctx context.Context, round int, agents []string, build func(agent string) core.JudgeRequest, handle roundHandler) error {
	roundCtx, cancel := context.WithTimeout(ctx, r.cfg.RoundTimeout)
	defer cancel()

	// Buffered to len(agents) so late goroutines never block after the
	// collector has gone.
	results := make(chan judgeResult, len(agents))
	sem := semaphore.NewWeighted(int64(r.cfg.MaxParallelAgents))

	pending := make(map[string]bool, len(agents))
	for _, a := range agents {
		pending[a] = true
	}

	go func() {
		for _, name := range agents {
			judge, err := r.o.judges.Get(name)
			if err != nil {
				results <- judgeResult{agent: name, err: unavailable(name, err)}
				continue
			}
			if err := sem.Acquire(roundCtx, 1); err != nil {
				results <- judgeResult{agent: name, err: core.ErrAgentTimeout(name, round)}
				continue
			}
			req := build(name)
			go func(name string, judge core.JudgeAgent) {
				defer sem.Release(1)
				results <- r.invoke(roundCtx, round, name, judge, req)
			}(name, judge)
		}
	}()

	for len(pending) > 0 {
		select {
		case res := <-results:
			delete(pending, res.agent)
			if err := handle(res); err != nil {
				return err
			}
		case <-roundCtx.Done():
			// take whatever already arrived before declaring the rest absent
			for drained := false; !drained; {
				select {
				case res := <-results:
					if !pending[res.agent] {
						continue
					}
					delete(pending, res.agent)
					if err := handle(res); err != nil {
						return err
					}
				default:
					drained = true
				}
			}
			for _, name := range sortedKeys(pending) {
				delete(pending, name)
				if err := handle(judgeResult{agent: name, err: core.ErrAgentTimeout(name, round)}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// invoke runs one judge call, converting panics and context errors into
// domain errors.
func (r *run) invoke(ctx context.Context, round int, name string, judge core.JudgeAgent, req core.JudgeRequest) (res judgeResult) {
	start := r.o.clock.Now()
	res.agent = name
	defer func() {
		if p := recover(); p != nil {
			res.err = core.ErrAgentError(name, fmt.Errorf("judge panicked: %v", p))
		}
		res.elapsed = r.o.clock.Now().Sub(start)
	}()

	resp, err := judge.Evaluate(ctx, req)
	switch {
	case err == nil:
		res.resp = resp
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		res.err = core.ErrAgentTimeout(name, round).WithCause(err)
	default:
		var domErr *core.DomainError
		if errors.As(err, &domErr) && (domErr.Code == core.CodeAgentTimeout || domErr.Code == core.CodeAgentFailed) {
			res.err = domErr
		} else {
			res.err = core.ErrAgentError(name, err)
		}
	}
	return res
}

func unavailable(name string, cause error) *core.DomainError {
	return &core.DomainError{
		Category: core.ErrCatExecution,
		Code:     core.CodeAgentUnavailable,
		Message:  fmt.Sprintf("agent %s is not registered", name),
		Cause:    cause,
		Details:  map[string]interface{}{"agent": name},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
