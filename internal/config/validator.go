package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/consensus"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateEvaluation(&cfg.Evaluation)
	v.validateCodec(&cfg.Codec)
	v.validateLedger(&cfg.Ledger)
	v.validateStore(&cfg.Store)
	v.validateDuration("consumer.poll_interval", cfg.Consumer.PollInterval, false)
	v.validateServer(&cfg.Server)
	v.validateJudges(cfg.Judges)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateEvaluation(cfg *EvaluationConfig) {
	if _, err := consensus.ParseAlgorithm(cfg.Algorithm); err != nil {
		v.addError("evaluation.algorithm", cfg.Algorithm, "unsupported algorithm")
	}
	if cfg.MADMultiplier <= 0 {
		v.addError("evaluation.mad_multiplier", cfg.MADMultiplier, "must be positive")
	}
	if cfg.TrimFraction < 0 || cfg.TrimFraction >= 0.5 {
		v.addError("evaluation.trim_fraction", cfg.TrimFraction, "must be in [0, 0.5)")
	}
	if cfg.ConvergenceThreshold < 0 {
		v.addError("evaluation.convergence_threshold", cfg.ConvergenceThreshold, "must be non-negative")
	}
	if cfg.MaxDiscussionRounds < 1 {
		v.addError("evaluation.max_discussion_rounds", cfg.MaxDiscussionRounds, "must be at least 1")
	}
	if cfg.MinDiscussionRounds < 0 {
		v.addError("evaluation.min_discussion_rounds", cfg.MinDiscussionRounds, "must be non-negative")
	} else if cfg.MinDiscussionRounds > 0 && cfg.MinDiscussionRounds >= cfg.MaxDiscussionRounds {
		v.addError("evaluation.min_discussion_rounds", cfg.MinDiscussionRounds, "must be below max_discussion_rounds")
	}
	v.validateDuration("evaluation.round_timeout", cfg.RoundTimeout, false)
	v.validateDuration("evaluation.evaluation_timeout", cfg.EvaluationTimeout, true)
	v.validateDuration("evaluation.finalize_timeout", cfg.FinalizeTimeout, true)
	if cfg.MaxParallelAgents < 1 {
		v.addError("evaluation.max_parallel_agents", cfg.MaxParallelAgents, "must be at least 1")
	}
	if cfg.AdjustmentEpsilon < 0 {
		v.addError("evaluation.adjustment_epsilon", cfg.AdjustmentEpsilon, "must be non-negative")
	}
	if cfg.ScoreMax <= cfg.ScoreMin {
		v.addError("evaluation.score_max", cfg.ScoreMax, "must be greater than score_min")
	}
}

func (v *Validator) validateCodec(cfg *CodecConfig) {
	if cfg.ChunkThreshold < 1 {
		v.addError("codec.chunk_threshold", cfg.ChunkThreshold, "must be positive")
	}
	if cfg.MaxChunks < 1 {
		v.addError("codec.max_chunks", cfg.MaxChunks, "must be positive")
	}
}

func (v *Validator) validateLedger(cfg *LedgerConfig) {
	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.Path == "" {
			v.addError("ledger.path", cfg.Path, "path required for sqlite backend")
		} else if !isValidPath(cfg.Path) {
			v.addError("ledger.path", cfg.Path, "invalid file path")
		}
	case "http":
		if u, err := url.Parse(cfg.URL); err != nil || u.Scheme == "" || u.Host == "" {
			v.addError("ledger.url", cfg.URL, "absolute URL required for http backend")
		}
	default:
		v.addError("ledger.backend", cfg.Backend, "must be one of: memory, sqlite, http")
	}
	if cfg.MaxEntrySize < 0 {
		v.addError("ledger.max_entry_size", cfg.MaxEntrySize, "must be non-negative")
	}
	if cfg.PublishRetries < 0 || cfg.PublishRetries > 10 {
		v.addError("ledger.publish_retries", cfg.PublishRetries, "must be between 0 and 10")
	}
	v.validateDuration("ledger.retry_base_delay", cfg.RetryBaseDelay, false)
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Path == "" {
		v.addError("store.path", cfg.Path, "path required when enabled")
	}
	if cfg.Backend != "" && cfg.Backend != "sqlite" && cfg.Backend != "json" {
		v.addError("store.backend", cfg.Backend, "must be one of: sqlite, json")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Addr == "" {
		v.addError("server.addr", cfg.Addr, "listen address required")
	}
	v.validateDuration("server.request_timeout", cfg.RequestTimeout, false)
}

func (v *Validator) validateJudges(judges map[string]JudgeConfig) {
	names := make([]string, 0, len(judges))
	for name := range judges {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		j := judges[name]
		prefix := "judges." + name
		if strings.TrimSpace(j.Command) == "" {
			v.addError(prefix+".command", j.Command, "command required")
		}
		if j.Timeout != "" {
			v.validateDuration(prefix+".timeout", j.Timeout, false)
		}
		if j.Weight < 0 {
			v.addError(prefix+".weight", j.Weight, "must be non-negative")
		}
	}
}

// validateDuration checks a duration string; zero is accepted only when
// allowZero is set.
func (v *Validator) validateDuration(field, value string, allowZero bool) {
	d, err := time.ParseDuration(value)
	switch {
	case err != nil:
		v.addError(field, value, "invalid duration format")
	case d < 0:
		v.addError(field, value, "must be non-negative")
	case d == 0 && !allowZero:
		v.addError(field, value, "must be positive")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
