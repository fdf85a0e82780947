package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigFile(writeFile(t, "empty.yaml", "")).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Default()
	if cfg.Log != want.Log {
		t.Errorf("Log = %+v, want %+v", cfg.Log, want.Log)
	}
	if cfg.Evaluation != want.Evaluation {
		t.Errorf("Evaluation = %+v, want %+v", cfg.Evaluation, want.Evaluation)
	}
	if cfg.Codec != want.Codec || cfg.Ledger != want.Ledger || cfg.Store != want.Store {
		t.Errorf("Codec/Ledger/Store differ from defaults: %+v %+v %+v", cfg.Codec, cfg.Ledger, cfg.Store)
	}
	if cfg.Server.Addr != want.Server.Addr {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, want.Server.Addr)
	}
	if cfg.Judges == nil || len(cfg.Judges) != 0 {
		t.Errorf("Judges = %v, want empty map", cfg.Judges)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoader_File(t *testing.T) {
	path := writeFile(t, "judge.yaml", `
evaluation:
  algorithm: median
  max_discussion_rounds: 5
  round_timeout: 1m
ledger:
  backend: memory
judges:
  strict:
    command: ./strict.sh
    args: ["--fast"]
    weight: 2
    env:
      MODE: strict
  lenient:
    command: ./lenient.sh
`)

	loader := NewLoader().WithConfigFile(path)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loader.ConfigFile() != path {
		t.Errorf("ConfigFile() = %q, want %q", loader.ConfigFile(), path)
	}
	if cfg.Evaluation.Algorithm != "median" || cfg.Evaluation.MaxDiscussionRounds != 5 {
		t.Errorf("Evaluation = %+v", cfg.Evaluation)
	}
	if Duration(cfg.Evaluation.RoundTimeout) != time.Minute {
		t.Errorf("RoundTimeout = %q", cfg.Evaluation.RoundTimeout)
	}
	// untouched keys keep defaults
	if cfg.Evaluation.ScoreMax != 10 {
		t.Errorf("ScoreMax = %v, want 10", cfg.Evaluation.ScoreMax)
	}

	strict, ok := cfg.Judges["strict"]
	if !ok {
		t.Fatalf("Judges = %v, missing strict", cfg.Judges)
	}
	if strict.Command != "./strict.sh" || len(strict.Args) != 1 || strict.Env["mode"]+strict.Env["MODE"] != "strict" {
		t.Errorf("strict = %+v", strict)
	}
	if got := cfg.Weights(); len(got) != 1 || got["strict"] != 2 {
		t.Errorf("Weights() = %v, want only strict=2", got)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("QUORUM_JUDGE_LOG_LEVEL", "debug")
	t.Setenv("QUORUM_JUDGE_EVALUATION_ALGORITHM", "trimmed_mean")
	t.Setenv("QUORUM_JUDGE_CODEC_CHUNK_THRESHOLD", "512")

	cfg, err := NewLoader().WithConfigFile(writeFile(t, "c.yaml", "log:\n  level: warn\n")).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Evaluation.Algorithm != "trimmed_mean" {
		t.Errorf("Algorithm = %q, want trimmed_mean", cfg.Evaluation.Algorithm)
	}
	if cfg.Codec.ChunkThreshold != 512 {
		t.Errorf("ChunkThreshold = %d, want 512", cfg.Codec.ChunkThreshold)
	}
}

func TestLoader_BadFile(t *testing.T) {
	_, err := NewLoader().WithConfigFile(writeFile(t, "bad.yaml", "log: [unclosed")).Load()
	if err == nil {
		t.Fatal("Load() should fail on malformed YAML")
	}
}

func TestLoader_Override(t *testing.T) {
	t.Setenv("QUORUM_JUDGE_SERVER_ADDR", ":7000")
	cfg, err := NewLoader().
		WithConfigFile(writeFile(t, "a.yaml", "evaluation:\n  algorithm: median\n")).
		WithOverride("server.addr", ":9999").
		WithOverride("evaluation.algorithm", "weighted_mean").
		Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("Server.Addr = %q, override should beat the environment", cfg.Server.Addr)
	}
	if cfg.Evaluation.Algorithm != "weighted_mean" {
		t.Errorf("Algorithm = %q, override should beat the file", cfg.Evaluation.Algorithm)
	}
}

func TestSearchPaths(t *testing.T) {
	paths := SearchPaths()
	if len(paths) == 0 || paths[0] != "." {
		t.Fatalf("SearchPaths() = %v, want project directory first", paths)
	}
	if len(paths) > 1 && !strings.HasSuffix(paths[1], filepath.Join(".config", "quorum-judge")) {
		t.Errorf("user config dir = %q", paths[1])
	}
}

func TestValidator(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"algorithm", func(c *Config) { c.Evaluation.Algorithm = "vote" }, "evaluation.algorithm"},
		{"trim fraction", func(c *Config) { c.Evaluation.TrimFraction = 0.5 }, "evaluation.trim_fraction"},
		{"max rounds", func(c *Config) { c.Evaluation.MaxDiscussionRounds = 0 }, "evaluation.max_discussion_rounds"},
		{"min rounds", func(c *Config) { c.Evaluation.MinDiscussionRounds = 3 }, "evaluation.min_discussion_rounds"},
		{"round timeout", func(c *Config) { c.Evaluation.RoundTimeout = "soon" }, "evaluation.round_timeout"},
		{"zero round timeout", func(c *Config) { c.Evaluation.RoundTimeout = "0s" }, "evaluation.round_timeout"},
		{"score range", func(c *Config) { c.Evaluation.ScoreMax = 0 }, "evaluation.score_max"},
		{"chunk threshold", func(c *Config) { c.Codec.ChunkThreshold = 0 }, "codec.chunk_threshold"},
		{"ledger backend", func(c *Config) { c.Ledger.Backend = "kafka" }, "ledger.backend"},
		{"ledger url", func(c *Config) { c.Ledger.Backend = "http"; c.Ledger.URL = "not a url" }, "ledger.url"},
		{"ledger path", func(c *Config) { c.Ledger.Path = "" }, "ledger.path"},
		{"retries", func(c *Config) { c.Ledger.PublishRetries = 11 }, "ledger.publish_retries"},
		{"store backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"poll interval", func(c *Config) { c.Consumer.PollInterval = "-1s" }, "consumer.poll_interval"},
		{"server addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"judge command", func(c *Config) { c.Judges["x"] = JudgeConfig{} }, "judges.x.command"},
		{"judge weight", func(c *Config) { c.Judges["x"] = JudgeConfig{Command: "x", Weight: -1} }, "judges.x.weight"},
		{"judge timeout", func(c *Config) { c.Judges["x"] = JudgeConfig{Command: "x", Timeout: "1 minute"} }, "judges.x.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			errs, ok := err.(ValidationErrors)
			if !ok {
				t.Fatalf("ValidateConfig() = %v, want ValidationErrors", err)
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not mention %s", errs, tt.field)
			}
		})
	}
}

func TestValidator_DisabledStoreSkipsPath(t *testing.T) {
	cfg := Default()
	cfg.Store.Enabled = false
	cfg.Store.Path = ""
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("ValidateConfig() = %v", err)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ProjectConfigFile)

	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# quorum-judge configuration") {
		t.Error("written config lacks header")
	}

	cfg, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("Load() of written config error = %v", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
	if len(cfg.Judges) != len(ExampleJudges()) {
		t.Errorf("Judges = %d, want %d", len(cfg.Judges), len(ExampleJudges()))
	}

	err = WriteDefault(path, false)
	if core.GetCode(err) != "CONFIG_EXISTS" {
		t.Errorf("second WriteDefault() = %v, want CONFIG_EXISTS", err)
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("forced WriteDefault() error = %v", err)
	}
}

func TestDuration(t *testing.T) {
	if Duration("250ms") != 250*time.Millisecond {
		t.Error("Duration(250ms) mismatch")
	}
	if Duration("") != 0 || Duration("nope") != 0 {
		t.Error("Duration() of invalid input should be zero")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}
