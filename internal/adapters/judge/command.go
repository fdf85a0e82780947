// Package judge provides JudgeAgent implementations and a registry for them.
package judge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/logging"
)

// DefaultCommandTimeout bounds a single invocation when the config sets none.
// The orchestrator's round timeout usually fires first.
const DefaultCommandTimeout = 5 * time.Minute

// DefaultPrompt is rendered to the command's stdin.
const DefaultPrompt = `You are {{.Name}}, one judge on an evaluation panel.
Score the content below from {{.ScoreMin}} to {{.ScoreMax}} against these criteria:
{{range .Criteria}}- {{.}}
{{end}}
Content:
<<<
{{.Content}}
>>>
{{with .Peer}}
This is discussion round {{$.Round}}. Your current score is {{.OwnScore}}.
The panel scored {{.Distribution.Count}} times: median {{.Distribution.Median}}, mean {{printf "%.2f" .Distribution.Mean}}, range {{.Distribution.Min}} to {{.Distribution.Max}}.
{{range .Peers}}- {{.AgentID}} scored {{.Score}} (confidence {{printf "%.2f" .Confidence}}): {{.Reasoning}}
{{end}}Keep your score or revise it. Use comment to respond to the other judges.
{{end}}
Reply with a single YAML or JSON object and nothing else:
score: <number>
confidence: <0 to 1>
reasoning: <why>
aspects: {<criterion>: <number>}
comment: <optional remark for the panel>
`

// CommandConfig configures an external judge process.
type CommandConfig struct {
	Name string
	// Command may contain arguments separated by spaces.
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string
	Timeout time.Duration
	// Prompt overrides DefaultPrompt. It is a text/template.
	Prompt   string
	ScoreMin float64
	ScoreMax float64
}

// CommandJudge runs an external command per round. The rendered prompt is
// written to stdin and the verdict is parsed from stdout.
type CommandJudge struct {
	cfg    CommandConfig
	tmpl   *template.Template
	logger *logging.Logger
}

type promptData struct {
	core.JudgeRequest
	Name     string
	ScoreMin float64
	ScoreMax float64
}

// NewCommandJudge validates cfg and compiles its prompt template.
func NewCommandJudge(cfg CommandConfig, logger *logging.Logger) (*CommandJudge, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "judge name is required")
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("judge %s has no command", cfg.Name))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCommandTimeout
	}
	if cfg.ScoreMax <= cfg.ScoreMin {
		cfg.ScoreMin, cfg.ScoreMax = 0, 10
	}
	text := cfg.Prompt
	if text == "" {
		text = DefaultPrompt
	}
	tmpl, err := template.New(cfg.Name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("judge %s prompt: %v", cfg.Name, err))
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CommandJudge{cfg: cfg, tmpl: tmpl, logger: logger.WithAgent(cfg.Name)}, nil
}

// Name implements core.JudgeAgent.
func (j *CommandJudge) Name() string {
	return j.cfg.Name
}

// Render returns the prompt the command would receive for req.
func (j *CommandJudge) Render(req core.JudgeRequest) (string, error) {
	var buf bytes.Buffer
	data := promptData{JudgeRequest: req, Name: j.cfg.Name, ScoreMin: j.cfg.ScoreMin, ScoreMax: j.cfg.ScoreMax}
	if err := j.tmpl.Execute(&buf, data); err != nil {
		return "", core.ErrAgentError(j.cfg.Name, fmt.Errorf("rendering prompt: %w", err))
	}
	return buf.String(), nil
}

// Evaluate implements core.JudgeAgent.
func (j *CommandJudge) Evaluate(ctx context.Context, req core.JudgeRequest) (core.JudgeResponse, error) {
	prompt, err := j.Render(req)
	if err != nil {
		return core.JudgeResponse{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	parts := strings.Fields(j.cfg.Command)
	args := append(parts[1:], j.cfg.Args...)
	cmd := exec.CommandContext(ctx, parts[0], args...)
	cmd.Dir = j.cfg.WorkDir
	cmd.Stdin = strings.NewReader(prompt)
	if len(j.cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range j.cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	configureProcAttr(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := j.logger.WithRound(req.Round)
	logger.Debug("invoking judge command", "command", parts[0], "prompt_len", len(prompt))

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() != nil {
		logger.Warn("judge command cancelled", "duration", duration, "error", ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return core.JudgeResponse{}, core.ErrAgentTimeout(j.cfg.Name, req.Round)
		}
		return core.JudgeResponse{}, core.ErrAgentError(j.cfg.Name, ctx.Err())
	}
	if runErr != nil {
		detail := j.logger.Sanitize(truncate(strings.TrimSpace(stderr.String()), 500))
		logger.Warn("judge command failed", "duration", duration, "error", runErr, "stderr", detail)
		return core.JudgeResponse{}, core.ErrAgentError(j.cfg.Name, classifyError(runErr, detail))
	}

	resp, err := ParseResponse(stdout.String())
	if err != nil {
		logger.Warn("unparseable judge output", "duration", duration, "stdout", truncate(j.logger.Sanitize(stdout.String()), 200))
		return core.JudgeResponse{}, core.ErrAgentError(j.cfg.Name, err)
	}
	logger.Debug("judge command finished", "duration", duration, "score", resp.Score)
	return resp, nil
}

// Check reports whether the command can be found.
func (j *CommandJudge) Check(_ context.Context) error {
	name := strings.Fields(j.cfg.Command)[0]
	if _, err := exec.LookPath(name); err != nil {
		return core.ErrNotFound("command", name)
	}
	return nil
}

func classifyError(err error, stderr string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := fmt.Sprintf("exit code %d", exitErr.ExitCode())
		if stderr != "" {
			msg += ": " + stderr
		}
		return core.ErrExecution("COMMAND_FAILED", msg).WithCause(err)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return core.ErrExecution("COMMAND_NOT_FOUND", err.Error()).WithCause(err)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
