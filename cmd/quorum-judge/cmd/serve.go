package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/api"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ordered log over HTTP",
	Long: `Host the configured memory or sqlite ledger over HTTP so evaluations
and observers on other machines can share it with ledger.backend: http.

Examples:
  # Serve the sqlite ledger on the configured address
  quorum-judge serve

  # Serve on all interfaces
  quorum-judge serve --addr 0.0.0.0:8480`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"address to listen on (default: server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	if e.cfg.Ledger.Backend == "http" {
		return core.ErrValidation(core.CodeInvalidConfig,
			"serve needs a local ledger; set ledger.backend to sqlite or memory")
	}

	addr := serveAddr
	if addr == "" {
		addr = e.cfg.Server.Addr
	}

	srv := api.NewServer(e.log,
		api.WithLogger(e.logger.Logger),
		api.WithMaxEntrySize(e.cfg.Ledger.MaxEntrySize),
		api.WithMaxChunks(e.cfg.Codec.MaxChunks),
		api.WithRequestTimeout(config.Duration(e.cfg.Server.RequestTimeout)),
		api.WithAllowedOrigins(e.cfg.Server.AllowedOrigins...),
	)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		e.logger.Info("shutting down log server")
		return nil
	})

	if !quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "serving %s ledger on http://%s\n", e.cfg.Ledger.Backend, addr)
	}
	return g.Wait()
}
