package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. QUORUM_JUDGE_LOG_LEVEL.
const EnvPrefix = "QUORUM_JUDGE"

// Loader resolves a Config from defaults, a YAML file, the environment and
// whatever flags the caller bound on the viper instance. Later sources win:
// defaults < file < environment < flags.
type Loader struct {
	v         *viper.Viper
	file      string
	envPrefix string
	overrides map[string]any
}

// NewLoader returns a loader backed by a private viper instance.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper shares v with the CLI so bound flags take effect.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: EnvPrefix}
}

// WithConfigFile pins the file to read instead of searching for one.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.file = path
	return l
}

// WithOverride forces key to value above every other source. Keys use the
// dotted YAML form, e.g. "evaluation.algorithm".
func (l *Loader) WithOverride(key string, value any) *Loader {
	if l.overrides == nil {
		l.overrides = make(map[string]any)
	}
	l.overrides[key] = value
	return l
}

// SearchPaths lists the directories probed for .quorum-judge.yaml when no
// file is pinned, project directory first.
func SearchPaths() []string {
	paths := []string{"."}
	if dir, err := UserConfigDir(); err == nil {
		paths = append(paths, dir)
	}
	return paths
}

// Load reads every source and decodes the result.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.readFile(); err != nil {
		return nil, err
	}
	for key, value := range l.overrides {
		l.v.Set(key, value)
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Judges == nil {
		cfg.Judges = map[string]JudgeConfig{}
	}
	return &cfg, nil
}

func (l *Loader) readFile() error {
	if l.file != "" {
		l.v.SetConfigFile(l.file)
	} else {
		l.v.SetConfigName(strings.TrimSuffix(ProjectConfigFile, ".yaml"))
		l.v.SetConfigType("yaml")
		for _, dir := range SearchPaths() {
			l.v.AddConfigPath(dir)
		}
	}

	err := l.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err == nil || errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("reading config %s: %w", l.v.ConfigFileUsed(), err)
}

// UserConfigDir returns ~/.config/quorum-judge.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".config", "quorum-judge"), nil
}

// ConfigFile returns the file Load read, or "" when none was found.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
