package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfse-issuer/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server for emitting and tracking DPS documents.

The API provides endpoints for:
  - POST /api/v1/dps              - Emit a DPS
  - GET  /api/v1/dps/:id          - Document state
  - GET  /api/v1/dps/:id/xml      - Stored XML
  - POST /api/v1/dps/:id/cancel   - Cancel an authorized document
  - POST /api/v1/classify         - Classify a return code
  - GET  /health                  - Health check
  - GET  /metrics                 - Prometheus metrics

Examples:
  # Start server on default port
  nfse serve

  # Start with a PostgreSQL store in debug mode
  nfse serve --store postgres --debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("address", ":8080", "Server listen address (env: NFSE_SERVER_ADDRESS)")
	serveCmd.Flags().Bool("debug", false, "Enable debug mode")
	serveCmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	serveCmd.Flags().Duration("write-timeout", 2*time.Minute, "HTTP write timeout")

	for key, flag := range map[string]string{
		"server.address":       "address",
		"server.debug":         "debug",
		"server.read_timeout":  "read-timeout",
		"server.write_timeout": "write-timeout",
	} {
		if err := v.BindPFlag(key, serveCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithCertificate(a.certificate),
		server.WithLogger(logger),
	}
	for name, check := range a.checks {
		opts = append(opts, server.WithHealthCheck(name, check))
	}
	if a.certificate.Thumbprint == "" {
		logger.Warn("no certificate configured; emission and cancellation are disabled")
	}

	srv := server.NewServer(&server.Config{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Debug:        cfg.Server.Debug,
	}, a.pipeline, opts...)

	logger.Info("starting server",
		slog.String("address", cfg.Server.Address),
		slog.String("store", cfg.Store.Driver),
		slog.String("environment", cfg.Environment))
	return srv.Run(ctx)
}
