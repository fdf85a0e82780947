package config

// Default returns the built-in configuration. It carries no judges.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		Evaluation: EvaluationConfig{
			Algorithm:            "simple_average",
			MADMultiplier:        3.0,
			TrimFraction:         0.1,
			ConvergenceThreshold: 0.5,
			MaxDiscussionRounds:  3,
			EnableDiscussion:     true,
			RoundTimeout:         "30s",
			EvaluationTimeout:    "5m",
			FinalizeTimeout:      "15s",
			MaxParallelAgents:    8,
			AdjustmentEpsilon:    0.01,
			ScoreMin:             0,
			ScoreMax:             10,
		},
		Codec: CodecConfig{ChunkThreshold: 1024, MaxChunks: 4096},
		Ledger: LedgerConfig{
			Backend:        "sqlite",
			Path:           ".quorum-judge/ledger.db",
			URL:            "http://127.0.0.1:8480",
			PublishRetries: 3,
			RetryBaseDelay: "200ms",
		},
		Store:    StoreConfig{Enabled: true, Path: ".quorum-judge/evaluations.db"},
		Consumer: ConsumerConfig{PollInterval: "2s"},
		Server:   ServerConfig{Addr: "127.0.0.1:8480", RequestTimeout: "30s"},
		Judges:   map[string]JudgeConfig{},
	}
}

// ExampleJudges are written by WriteDefault so a fresh config shows the
// judge format.
func ExampleJudges() map[string]JudgeConfig {
	return map[string]JudgeConfig{
		"claude": {Command: "claude -p", Timeout: "2m", Weight: 1},
		"gemini": {Command: "gemini", Timeout: "2m", Weight: 1},
		"codex":  {Command: "codex exec", Timeout: "2m", Weight: 1},
	}
}

// setDefaults registers every default with viper so env overrides work for
// keys absent from the config file.
func (l *Loader) setDefaults() {
	d := Default()

	l.v.SetDefault("log.level", d.Log.Level)
	l.v.SetDefault("log.format", d.Log.Format)
	l.v.SetDefault("log.file", d.Log.File)

	e := d.Evaluation
	l.v.SetDefault("evaluation.algorithm", e.Algorithm)
	l.v.SetDefault("evaluation.outlier_detection", e.OutlierDetection)
	l.v.SetDefault("evaluation.mad_multiplier", e.MADMultiplier)
	l.v.SetDefault("evaluation.trim_fraction", e.TrimFraction)
	l.v.SetDefault("evaluation.convergence_threshold", e.ConvergenceThreshold)
	l.v.SetDefault("evaluation.max_discussion_rounds", e.MaxDiscussionRounds)
	l.v.SetDefault("evaluation.min_discussion_rounds", e.MinDiscussionRounds)
	l.v.SetDefault("evaluation.enable_discussion", e.EnableDiscussion)
	l.v.SetDefault("evaluation.round_timeout", e.RoundTimeout)
	l.v.SetDefault("evaluation.evaluation_timeout", e.EvaluationTimeout)
	l.v.SetDefault("evaluation.finalize_timeout", e.FinalizeTimeout)
	l.v.SetDefault("evaluation.max_parallel_agents", e.MaxParallelAgents)
	l.v.SetDefault("evaluation.adjustment_epsilon", e.AdjustmentEpsilon)
	l.v.SetDefault("evaluation.score_min", e.ScoreMin)
	l.v.SetDefault("evaluation.score_max", e.ScoreMax)

	l.v.SetDefault("codec.chunk_threshold", d.Codec.ChunkThreshold)
	l.v.SetDefault("codec.max_chunks", d.Codec.MaxChunks)

	l.v.SetDefault("ledger.backend", d.Ledger.Backend)
	l.v.SetDefault("ledger.path", d.Ledger.Path)
	l.v.SetDefault("ledger.url", d.Ledger.URL)
	l.v.SetDefault("ledger.max_entry_size", d.Ledger.MaxEntrySize)
	l.v.SetDefault("ledger.publish_retries", d.Ledger.PublishRetries)
	l.v.SetDefault("ledger.retry_base_delay", d.Ledger.RetryBaseDelay)

	l.v.SetDefault("store.enabled", d.Store.Enabled)
	l.v.SetDefault("store.backend", d.Store.Backend)
	l.v.SetDefault("store.path", d.Store.Path)

	l.v.SetDefault("consumer.poll_interval", d.Consumer.PollInterval)

	l.v.SetDefault("server.addr", d.Server.Addr)
	l.v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	l.v.SetDefault("server.allowed_origins", []string{})
}
