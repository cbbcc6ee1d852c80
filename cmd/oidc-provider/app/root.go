// Package app implements the oidc-provider command line.
package app

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X .../app.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	envFile    string
	listenAddr string
}

// load reads the configuration and builds the logger it describes.
func (o *rootOptions) load() (Config, *slog.Logger, error) {
	cfg, err := loadConfig(o.configPath, o.envFile)
	if err != nil {
		return Config{}, nil, err
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, logger, nil
}

// NewRootCmd creates the oidc-provider command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "oidc-provider",
		Short:         "OAuth 2.1 and OpenID Connect provider",
		Version:       version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to a dotenv file with OIDC_* overrides")

	root.AddCommand(
		newServeCmd(opts),
		newClientCmd(opts),
		newHashPasswordCmd(),
		newGenerateKeyCmd(),
	)
	return root
}
