package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/sdkstore/internal/config"
	"github.com/roach88/sdkstore/internal/datastore"
)

// RootOptions holds global flags and the configuration resolved from them.
type RootOptions struct {
	Verbose    bool
	ConfigFile string
	Metrics    bool

	// EnvFiles overrides the .env files loaded before configuration
	// (for testing). Nil loads .env and .env.local.
	EnvFiles []string

	// Set by PersistentPreRunE.
	Config config.Config
	Logger *slog.Logger
}

// NewRootCommand creates the root command for the sdkstore CLI. opts is
// filled in as flags and configuration are resolved.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sdkstore",
		Short: "Inspect and maintain SDK datastore files",
		Long: `Inspect and maintain the persistent and cache store files used by the
encryption SDK.

Store paths and options come from flags, SDKSTORE_* environment variables,
.env/.env.local files or a YAML file given with --config, in that order of
precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.Metrics {
				datastore.WriteMetrics(cmd.ErrOrStderr())
			}
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (log level debug)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.Metrics, "metrics", false, "write operation metrics to stderr on exit")
	config.SetupFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewDeviceCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))
	cmd.AddCommand(NewNukeCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

func (o *RootOptions) resolve(cmd *cobra.Command) error {
	config.LoadEnvFiles(o.EnvFiles...)

	cfg, err := config.Load(cmd.Flags(), o.ConfigFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if o.Verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	o.Config = cfg

	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	return nil
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Config.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
