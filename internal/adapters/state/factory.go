// Package state persists evaluation records for the orchestrator and the
// query API.
package state

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// Backend names accepted by NewStore.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// NewStore opens an evaluation store. An empty backend is inferred from the
// path extension: ".json" selects the JSON file store, anything else SQLite.
func NewStore(backend, path string) (core.EvaluationStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "state path is required")
	}
	if backend == "" {
		backend = BackendSQLite
		if strings.EqualFold(filepath.Ext(path), ".json") {
			backend = BackendJSON
		}
	}

	switch strings.ToLower(backend) {
	case BackendSQLite:
		if !strings.HasSuffix(path, ".db") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		return NewSQLiteStore(path)
	case BackendJSON:
		return NewJSONStore(path), nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown state backend %q", backend))
	}
}
