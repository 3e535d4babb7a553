package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rezonia/nfse-issuer/internal/config"
)

var (
	version = "1.0.0"

	// Global flags
	configFile   string
	outputFormat string

	v      = config.New()
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nfse",
	Short: "Emit and track Brazilian national service invoices (NFS-e)",
	Long: `nfse builds, signs and transmits DPS documents to the national NFS-e
authority and tracks each document through its lifecycle.

Configuration is read from defaults, an optional YAML file (--config) and
NFSE_* environment variables, e.g. NFSE_AUTHORITY_BASE_URL or
NFSE_STORE_DRIVER.

Examples:
  # Emit every DPS in a directory, four at a time
  nfse emit dps/ --concurrency 4

  # Inspect and cancel a document
  nfse status 6f1c2a4e-...
  nfse cancel 6f1c2a4e-... --reason "Serviço não foi prestado ao tomador"

  # Classify an authority return code
  nfse classify E0014

  # Serve the HTTP API
  nfse serve --address :8080`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (YAML)")
	flags.StringVarP(&outputFormat, "format", "f", "table", "Output format (json, table)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error) (env: NFSE_LOG_LEVEL)")
	flags.String("log-format", "text", "Log format (text, json) (env: NFSE_LOG_FORMAT)")
	flags.String("store", "", "Lifecycle store driver: memory, postgres, redis (env: NFSE_STORE_DRIVER)")
	flags.String("environment", "", "Authority environment: production, homologation (env: NFSE_ENVIRONMENT)")

	bindFlag(v, "log.level", "log-level")
	bindFlag(v, "log.format", "log-format")
	bindFlag(v, "store.driver", "store")
	bindFlag(v, "environment", "environment")
}

func bindFlag(v *viper.Viper, key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	loaded, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logger, err = newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	switch outputFormat {
	case "json", "table":
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}
	return nil
}

func newLogger(lc config.LogConfig) (*slog.Logger, error) {
	level, err := lc.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}
