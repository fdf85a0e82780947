package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/fsutil"
)

// ProjectConfigFile is the file name searched in the working directory.
const ProjectConfigFile = ".quorum-judge.yaml"

const defaultHeader = `# quorum-judge configuration
#
# Every judge runs its command once per round. The prompt is written to
# stdin; the command must print a YAML or JSON object with at least a
# "score" field. Environment overrides use the QUORUM_JUDGE_ prefix,
# e.g. QUORUM_JUDGE_EVALUATION_ALGORITHM=median.

`

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration with example judges to
// path. An existing file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return core.ErrValidation("CONFIG_EXISTS", fmt.Sprintf("%s already exists", path))
		}
	}

	cfg := Default()
	cfg.Judges = ExampleJudges()
	body, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, append([]byte(defaultHeader), body...), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
