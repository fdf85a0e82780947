package judge

import (
	"context"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// EvaluateFunc is the signature of an in-process judge.
type EvaluateFunc func(ctx context.Context, req core.JudgeRequest) (core.JudgeResponse, error)

// Func adapts a function to core.JudgeAgent.
type Func struct {
	name string
	fn   EvaluateFunc
}

// NewFunc wraps fn as a judge called name.
func NewFunc(name string, fn EvaluateFunc) *Func {
	return &Func{name: name, fn: fn}
}

// Name implements core.JudgeAgent.
func (f *Func) Name() string { return f.name }

// Evaluate implements core.JudgeAgent.
func (f *Func) Evaluate(ctx context.Context, req core.JudgeRequest) (core.JudgeResponse, error) {
	return f.fn(ctx, req)
}

// Fixed returns a judge that always answers with resp. Useful for dry runs.
func Fixed(name string, resp core.JudgeResponse) *Func {
	return NewFunc(name, func(ctx context.Context, _ core.JudgeRequest) (core.JudgeResponse, error) {
		if err := ctx.Err(); err != nil {
			return core.JudgeResponse{}, err
		}
		return resp, nil
	})
}
