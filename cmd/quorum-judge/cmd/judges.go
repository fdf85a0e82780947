package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/config"
)

var judgesCmd = &cobra.Command{
	Use:   "judges",
	Short: "List configured judges and check their commands",
	RunE:  runJudges,
}

func init() {
	rootCmd.AddCommand(judgesCmd)
}

func runJudges(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	names := registry.Names()
	if len(names) == 0 {
		fmt.Fprintln(out, "No judges configured. Run 'quorum-judge init' to write an example config.")
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	results := registry.CheckAll(ctx)

	missing := 0
	for _, name := range names {
		jc := cfg.Judges[name]
		icon := "✓"
		note := ""
		if err := results[name]; err != nil {
			icon = "✗"
			note = "  " + err.Error()
			missing++
		}
		weight := ""
		if jc.Weight > 0 {
			weight = fmt.Sprintf("  weight %.2f", jc.Weight)
		}
		timeout := ""
		if d := config.Duration(jc.Timeout); d > 0 {
			timeout = "  timeout " + d.String()
		}
		fmt.Fprintf(out, "  %s %-12s %s%s%s%s\n", icon, name, jc.Command, weight, timeout, note)
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d judges unavailable", missing, len(names))
	}
	return nil
}
