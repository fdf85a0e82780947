package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/adapters/judge"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/adapters/ledger"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/consensus"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/orchestrator"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/tui"
)

// loadConfig loads and validates configuration using the global viper
// instance, which carries the persistent flag bindings.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the logger from config. The returned func closes the
// log file, if any.
func newLogger(cfg *config.Config) (*logging.Logger, func(), error) {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Log.Level
	lc.Format = cfg.Log.Format
	for _, j := range cfg.Judges {
		for _, v := range j.Env {
			lc.Secrets = append(lc.Secrets, v)
		}
	}
	if cfg.Log.File == "" {
		return logging.New(lc), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o750); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	lc.Output = f
	return logging.New(lc), func() { _ = f.Close() }, nil
}

// openLedger opens the configured ordered log. The returned func releases it.
func openLedger(cfg *config.Config) (core.OrderedLog, func() error, error) {
	lc := cfg.Ledger
	switch lc.Backend {
	case "memory":
		return ledger.NewMemoryLog(ledger.WithMaxEntrySize(lc.MaxEntrySize)), func() error { return nil }, nil
	case "sqlite":
		l, err := ledger.NewSQLiteLog(lc.Path, ledger.WithSQLiteMaxEntrySize(lc.MaxEntrySize))
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	case "http":
		return ledger.NewHTTPLog(lc.URL), func() error { return nil }, nil
	default:
		return nil, nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown ledger backend %q", lc.Backend))
	}
}

// openStore opens the evaluation store, or returns nil when disabled.
func openStore(cfg *config.Config) (core.EvaluationStore, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	return state.NewStore(cfg.Store.Backend, cfg.Store.Path)
}

// buildRegistry creates a command judge for every configured judge.
func buildRegistry(cfg *config.Config, logger *logging.Logger) (*judge.Registry, error) {
	names := make([]string, 0, len(cfg.Judges))
	for name := range cfg.Judges {
		names = append(names, name)
	}
	sort.Strings(names)

	reg, _ := judge.NewRegistry()
	for _, name := range names {
		jc := cfg.Judges[name]
		j, err := judge.NewCommandJudge(judge.CommandConfig{
			Name:     name,
			Command:  jc.Command,
			Args:     jc.Args,
			Env:      envKeys(jc.Env),
			WorkDir:  jc.WorkDir,
			Timeout:  config.Duration(jc.Timeout),
			Prompt:   jc.Prompt,
			ScoreMin: cfg.Evaluation.ScoreMin,
			ScoreMax: cfg.Evaluation.ScoreMax,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("judge %s: %w", name, err)
		}
		if err := reg.Register(j); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// envKeys restores upper-case variable names; viper lowercases map keys.
func envKeys(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// orchestratorConfig maps the evaluation and codec sections.
func orchestratorConfig(cfg *config.Config) (orchestrator.Config, error) {
	e := cfg.Evaluation
	alg, err := consensus.ParseAlgorithm(e.Algorithm)
	if err != nil {
		return orchestrator.Config{}, err
	}
	oc := orchestrator.Config{
		Algorithm:            alg,
		OutlierDetection:     e.OutlierDetection,
		MADMultiplier:        e.MADMultiplier,
		TrimFraction:         e.TrimFraction,
		ConvergenceThreshold: e.ConvergenceThreshold,
		MaxDiscussionRounds:  e.MaxDiscussionRounds,
		MinDiscussionRounds:  e.MinDiscussionRounds,
		EnableDiscussion:     e.EnableDiscussion,
		RoundTimeout:         config.Duration(e.RoundTimeout),
		EvaluationTimeout:    config.Duration(e.EvaluationTimeout),
		FinalizeTimeout:      config.Duration(e.FinalizeTimeout),
		MaxParallelAgents:    e.MaxParallelAgents,
		AdjustmentEpsilon:    e.AdjustmentEpsilon,
		ScoreMin:             e.ScoreMin,
		ScoreMax:             e.ScoreMax,
		ChunkThreshold:       cfg.Codec.ChunkThreshold,
		MaxChunks:            cfg.Codec.MaxChunks,
	}
	return oc, oc.Validate()
}

// retryPolicy maps the ledger publish retry settings.
func retryPolicy(cfg *config.Config) *orchestrator.RetryPolicy {
	opts := []orchestrator.RetryPolicyOption{
		orchestrator.WithMaxAttempts(cfg.Ledger.PublishRetries + 1),
	}
	if d := config.Duration(cfg.Ledger.RetryBaseDelay); d > 0 {
		opts = append(opts, orchestrator.WithBaseDelay(d))
	}
	return orchestrator.NewRetryPolicy(opts...)
}

// outputMode resolves presentation from the global flags and jsonOut.
func outputMode(jsonOut bool) tui.OutputMode {
	return tui.NewDetector().Detect(tui.OutputFlags{JSON: jsonOut, Quiet: quiet, NoColor: noColor})
}

// env bundles what a command needs after loading configuration.
type env struct {
	cfg      *config.Config
	logger   *logging.Logger
	log      core.OrderedLog
	closers  []func() error
	closeLog func()
}

// setup loads config, builds the logger and opens the ordered log.
func setup() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	log, closeLedger, err := openLedger(cfg)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	logger.Debug("ledger opened", "backend", cfg.Ledger.Backend)
	return &env{cfg: cfg, logger: logger, log: log, closers: []func() error{closeLedger}, closeLog: closeLog}, nil
}

func (e *env) onClose(fn func() error) {
	e.closers = append(e.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("close failed", "error", err)
		}
	}
	e.closeLog()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
