package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

var historyCmd = &cobra.Command{
	Use:   "history [evaluation-id]",
	Short: "Show stored evaluation summaries",
	Long: `List recent evaluations from the evaluation store, or show one in
detail. The ledger topic of each evaluation can be replayed with watch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var (
	historyLimit int
	historyJSON  bool
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20,
		"number of evaluations to list (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false,
		"print records as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Store.Enabled {
		return core.ErrValidation(core.CodeInvalidConfig, "evaluation store is disabled (store.enabled)")
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var records []*core.EvaluationRecord
	if len(args) == 1 {
		rec, err := store.GetEvaluation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		records = []*core.EvaluationRecord{rec}
	} else {
		records, err = store.ListEvaluations(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No evaluations recorded.")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintln(out, historyLine(rec))
	}
	return nil
}

func historyLine(rec *core.EvaluationRecord) string {
	s := rec.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s  %-10s  %s", rec.Request.ID, s.Status, rec.UpdatedAt.Local().Format("2006-01-02 15:04"))
	if s.Status == core.EvaluationStatusCompleted {
		fmt.Fprintf(&b, "  %.2f (%s, %d rounds)", s.ConsensusScore, s.Algorithm, s.ConvergenceRounds)
	}
	if s.TopicID != "" {
		fmt.Fprintf(&b, "  topic %s", s.TopicID)
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "  %s", s.Error)
	}
	return b.String()
}
