package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/fsutil"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/orchestrator"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/tui"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [content]",
	Short: "Run one evaluation through the judge panel",
	Long: `Run one evaluation: every judge scores the content, disagreements are
discussed for up to the configured number of rounds and the scores are
aggregated into a consensus. The deliberation is published to the ledger
topic printed in the result.

Examples:
  # Evaluate inline content against two criteria
  quorum-judge evaluate "func add(a, b int) int { return a + b }" -c correctness -c clarity

  # Evaluate a file with selected judges and the median algorithm
  quorum-judge evaluate --file essay.md -c argument --agents claude,gemini --algorithm median

  # Read content from stdin and print JSON
  cat answer.txt | quorum-judge evaluate --file - -c accuracy --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvaluate,
}

var (
	evalFile      string
	evalCriteria  []string
	evalAgents    []string
	evalAlgorithm string
	evalTopic     string
	evalID        string
	evalJSON      bool
)

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evalFile, "file", "f", "",
		"read content from file (- for stdin)")
	evaluateCmd.Flags().StringSliceVarP(&evalCriteria, "criteria", "c", nil,
		"evaluation criterion (repeatable)")
	evaluateCmd.Flags().StringSliceVarP(&evalAgents, "agents", "a", nil,
		"judges to ask (default: all configured)")
	evaluateCmd.Flags().StringVar(&evalAlgorithm, "algorithm", "",
		"consensus algorithm override")
	evaluateCmd.Flags().StringVar(&evalTopic, "topic", "",
		"publish to an existing topic instead of creating one")
	evaluateCmd.Flags().StringVar(&evalID, "id", "",
		"evaluation id (default: random UUID)")
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false,
		"print the outcome as JSON")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	content, err := readContent(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	oc, err := orchestratorConfig(e.cfg)
	if err != nil {
		return err
	}
	registry, err := buildRegistry(e.cfg, e.logger)
	if err != nil {
		return err
	}
	agents, err := registry.Resolve(evalAgents)
	if err != nil {
		return err
	}

	bus := events.New(256)
	defer bus.Close()

	opts := []orchestrator.Option{
		orchestrator.WithConfig(oc),
		orchestrator.WithEventBus(bus),
		orchestrator.WithLogger(e.logger),
		orchestrator.WithRetryPolicy(retryPolicy(e.cfg)),
		orchestrator.WithWeights(e.cfg.Weights()),
	}
	store, err := openStore(e.cfg)
	if err != nil {
		e.logger.Warn("evaluation store unavailable, continuing without it", "error", err)
	} else if store != nil {
		e.onClose(store.Close)
		opts = append(opts, orchestrator.WithStore(store))
	}

	orch, err := orchestrator.New(e.log, registry, opts...)
	if err != nil {
		return err
	}

	id := evalID
	if id == "" {
		id = uuid.NewString()
	}
	req := &core.EvaluationRequest{
		ID:        id,
		Content:   content,
		Criteria:  evalCriteria,
		Agents:    agents,
		Status:    core.EvaluationStatusPending,
		CreatedAt: time.Now().UTC(),
		TopicID:   evalTopic,
		Algorithm: evalAlgorithm,
	}

	mode := outputMode(evalJSON)
	var progress *tui.Progress
	if mode.Progress() {
		progress = tui.NewProgress(bus, tui.NewRenderer(cmd.ErrOrStderr(), mode.Color()))
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	outcome := orch.Run(ctx, req)
	if progress != nil {
		progress.Close()
	}

	if err := printOutcome(cmd.OutOrStdout(), outcome, mode, oc); err != nil {
		return err
	}
	if err := outcome.Err(); err != nil {
		return &reportedError{err: err}
	}
	return nil
}

func printOutcome(w io.Writer, o *orchestrator.Outcome, mode tui.OutputMode, oc orchestrator.Config) error {
	if mode == tui.ModeJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}
	return tui.NewRenderer(w, mode.Color()).WithScoreRange(oc.ScoreMin, oc.ScoreMax).Outcome(o)
}

// maxContentSize bounds what evaluate hands to judges.
const maxContentSize = 4 << 20

// readContent takes the positional argument, --file, or stdin with --file -.
func readContent(stdin io.Reader, args []string) (string, error) {
	var raw []byte
	switch {
	case len(args) == 1 && evalFile != "":
		return "", core.ErrValidation(core.CodeEmptyContent, "give content either as an argument or with --file")
	case len(args) == 1:
		raw = []byte(args[0])
	case evalFile == "-":
		b, err := io.ReadAll(io.LimitReader(stdin, maxContentSize+1))
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		if len(b) > maxContentSize {
			return "", core.ErrValidation(core.CodeContentTooLarge, fmt.Sprintf("stdin exceeds %d bytes", maxContentSize))
		}
		raw = b
	case evalFile != "":
		b, err := fsutil.ReadFileScoped(evalFile, maxContentSize)
		if errors.Is(err, fsutil.ErrTooLarge) {
			return "", core.ErrValidation(core.CodeContentTooLarge, err.Error())
		}
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", evalFile, err)
		}
		raw = b
	}
	content := strings.TrimSpace(string(raw))
	if content == "" {
		return "", core.ErrValidation(core.CodeEmptyContent, "no content to evaluate")
	}
	return content, nil
}
