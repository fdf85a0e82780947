package judge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// Checker is implemented by judges that can verify their availability
// without scoring anything.
type Checker interface {
	Check(ctx context.Context) error
}

// Registry holds the judges an orchestrator may call. It implements
// core.JudgeRegistry and is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	judges map[string]core.JudgeAgent
}

// NewRegistry creates a registry holding judges.
func NewRegistry(judges ...core.JudgeAgent) (*Registry, error) {
	r := &Registry{judges: make(map[string]core.JudgeAgent)}
	for _, j := range judges {
		if err := r.Register(j); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a judge. Names must be unique.
func (r *Registry) Register(j core.JudgeAgent) error {
	if j == nil || j.Name() == "" {
		return core.ErrValidation(core.CodeInvalidConfig, "judge must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.judges[j.Name()]; ok {
		return core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("duplicate judge %q", j.Name()))
	}
	r.judges[j.Name()] = j
	return nil
}

// Get implements core.JudgeRegistry.
func (r *Registry) Get(name string) (core.JudgeAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.judges[name]
	if !ok {
		return nil, core.ErrNotFound("judge", name)
	}
	return j, nil
}

// Names implements core.JudgeRegistry. The result is sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.judges))
	for name := range r.judges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve checks that every name is registered. An empty list resolves to
// all registered judges.
func (r *Registry) Resolve(names []string) ([]string, error) {
	if len(names) == 0 {
		all := r.Names()
		if len(all) == 0 {
			return nil, core.ErrValidation(core.CodeNoAgents, "no judges configured")
		}
		return all, nil
	}
	var missing []string
	for _, name := range names {
		if _, err := r.Get(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, core.ErrValidation(core.CodeAgentUnavailable, "unknown judges: "+strings.Join(missing, ", "))
	}
	return names, nil
}

// CheckAll runs Check on every judge that supports it, concurrently. Judges
// without a check report nil.
func (r *Registry) CheckAll(ctx context.Context) map[string]error {
	names := r.Names()
	results := make(map[string]error, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, name := range names {
		j, _ := r.Get(name)
		g.Go(func() error {
			var err error
			if c, ok := j.(Checker); ok {
				err = c.Check(gctx)
			}
			mu.Lock()
			results[name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
