// Package config loads quorum-judge settings from defaults, config files,
// environment variables and bound CLI flags.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log        LogConfig              `mapstructure:"log" yaml:"log"`
	Evaluation EvaluationConfig       `mapstructure:"evaluation" yaml:"evaluation"`
	Codec      CodecConfig            `mapstructure:"codec" yaml:"codec"`
	Ledger     LedgerConfig           `mapstructure:"ledger" yaml:"ledger"`
	Store      StoreConfig            `mapstructure:"store" yaml:"store"`
	Consumer   ConsumerConfig         `mapstructure:"consumer" yaml:"consumer"`
	Server     ServerConfig           `mapstructure:"server" yaml:"server"`
	Judges     map[string]JudgeConfig `mapstructure:"judges" yaml:"judges"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// EvaluationConfig configures the deliberation loop.
type EvaluationConfig struct {
	Algorithm            string  `mapstructure:"algorithm" yaml:"algorithm"`
	OutlierDetection     bool    `mapstructure:"outlier_detection" yaml:"outlier_detection"`
	MADMultiplier        float64 `mapstructure:"mad_multiplier" yaml:"mad_multiplier"`
	TrimFraction         float64 `mapstructure:"trim_fraction" yaml:"trim_fraction"`
	ConvergenceThreshold float64 `mapstructure:"convergence_threshold" yaml:"convergence_threshold"`
	MaxDiscussionRounds  int     `mapstructure:"max_discussion_rounds" yaml:"max_discussion_rounds"`
	MinDiscussionRounds  int     `mapstructure:"min_discussion_rounds" yaml:"min_discussion_rounds"`
	EnableDiscussion     bool    `mapstructure:"enable_discussion" yaml:"enable_discussion"`
	RoundTimeout         string  `mapstructure:"round_timeout" yaml:"round_timeout"`
	EvaluationTimeout    string  `mapstructure:"evaluation_timeout" yaml:"evaluation_timeout"`
	FinalizeTimeout      string  `mapstructure:"finalize_timeout" yaml:"finalize_timeout"`
	MaxParallelAgents    int     `mapstructure:"max_parallel_agents" yaml:"max_parallel_agents"`
	AdjustmentEpsilon    float64 `mapstructure:"adjustment_epsilon" yaml:"adjustment_epsilon"`
	ScoreMin             float64 `mapstructure:"score_min" yaml:"score_min"`
	ScoreMax             float64 `mapstructure:"score_max" yaml:"score_max"`
}

// CodecConfig configures message chunking.
type CodecConfig struct {
	ChunkThreshold int `mapstructure:"chunk_threshold" yaml:"chunk_threshold"`
	MaxChunks      int `mapstructure:"max_chunks" yaml:"max_chunks"`
}

// LedgerConfig selects and configures the ordered log.
type LedgerConfig struct {
	Backend        string `mapstructure:"backend" yaml:"backend"`
	Path           string `mapstructure:"path" yaml:"path"`
	URL            string `mapstructure:"url" yaml:"url"`
	MaxEntrySize   int    `mapstructure:"max_entry_size" yaml:"max_entry_size"`
	PublishRetries int    `mapstructure:"publish_retries" yaml:"publish_retries"`
	RetryBaseDelay string `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
}

// StoreConfig configures evaluation summary persistence.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Backend string `mapstructure:"backend" yaml:"backend,omitempty"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ConsumerConfig configures topic readers.
type ConsumerConfig struct {
	PollInterval string `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ServerConfig configures the HTTP ordered-log server.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	RequestTimeout string   `mapstructure:"request_timeout" yaml:"request_timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

// JudgeConfig configures one command-backed judge.
type JudgeConfig struct {
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args,omitempty"`
	Timeout string            `mapstructure:"timeout" yaml:"timeout,omitempty"`
	Weight  float64           `mapstructure:"weight" yaml:"weight,omitempty"`
	Env     map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	Prompt  string            `mapstructure:"prompt" yaml:"prompt,omitempty"`
	WorkDir string            `mapstructure:"workdir" yaml:"workdir,omitempty"`
}

// Duration parses a validated duration setting. Empty or malformed values
// yield zero.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// Weights returns the configured judge weights, omitting unset ones.
func (c *Config) Weights() map[string]float64 {
	out := make(map[string]float64)
	for name, j := range c.Judges {
		if j.Weight > 0 {
			out[name] = j.Weight
		}
	}
	return out
}
