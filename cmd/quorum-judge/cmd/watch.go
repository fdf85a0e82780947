package cmd

import (
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/consumer"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <topic-id>",
	Short: "Print the decoded messages of an evaluation topic",
	Long: `Read an evaluation topic back from the ledger and print every decoded
message. Chunked messages are reassembled and repeated entries skipped.

Examples:
  # Print what has been published so far
  quorum-judge watch sql-1

  # Follow a running evaluation until its final message
  quorum-judge watch sql-1 --follow

  # Print a round-by-round summary
  quorum-judge watch sql-1 --snapshot`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchFollow   bool
	watchSnapshot bool
	watchJSON     bool
	watchInterval time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchFollow, "follow", false,
		"keep polling until the final message arrives")
	watchCmd.Flags().BoolVar(&watchSnapshot, "snapshot", false,
		"print a round summary instead of individual messages")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false,
		"print messages as JSON lines")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0,
		"poll interval (default: consumer.poll_interval)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	c := consumer.New(e.log, args[0],
		consumer.WithMaxChunks(e.cfg.Codec.MaxChunks),
		consumer.WithLogger(e.logger))

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	out := cmd.OutOrStdout()
	mode := outputMode(watchJSON)
	r := tui.NewRenderer(out, mode.Color()).
		WithScoreRange(e.cfg.Evaluation.ScoreMin, e.cfg.Evaluation.ScoreMax)
	emit := func(m consumer.Message) error {
		if watchSnapshot {
			return nil
		}
		return printMessage(out, r, m, mode)
	}

	if !watchFollow {
		msgs, err := c.Poll(ctx)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := emit(m); err != nil {
				return err
			}
		}
	} else {
		interval := watchInterval
		if interval <= 0 {
			interval = config.Duration(e.cfg.Consumer.PollInterval)
		}
		for m, err := range c.Stream(ctx, interval, consumer.StreamOptions{StopOnFinal: true}) {
			if err != nil {
				if !core.IsRetryable(err) {
					return err
				}
				e.logger.Warn("poll failed, retrying", "topic", c.TopicID(), "error", err)
				continue
			}
			if err := emit(m); err != nil {
				return err
			}
		}
	}

	if watchSnapshot {
		snap := c.Snapshot()
		if mode == tui.ModeJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		return r.Snapshot(snap)
	}
	return nil
}

func printMessage(w io.Writer, r *tui.Renderer, m consumer.Message, mode tui.OutputMode) error {
	if mode == tui.ModeJSON {
		return json.NewEncoder(w).Encode(m)
	}
	return r.Message(m)
}
