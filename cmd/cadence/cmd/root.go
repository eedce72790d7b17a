// Package cmd implements the cadence command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petrijr/cadence/internal/config"
	"github.com/petrijr/cadence/internal/logging"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersion injects build information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// Execute runs the root command with os.Args.
func Execute() error {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// rootOptions is shared by every subcommand.
type rootOptions struct {
	v       *viper.Viper
	cfgFile string

	cfg    *config.Config
	logger *logging.Logger
}

// NewRootCommand builds the command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	root := &cobra.Command{
		Use:   "cadence",
		Short: "Check-in scheduling and stale-item fan-out engine",
		Long: `cadence runs recurring chat check-ins, nudges people who have not
answered, posts the digest when the window closes and fans stale
tickets out to their owners in bounded batches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return opts.initConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (default: .cadence.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "auto", "log format (auto, text, json)")
	pf.String("storage", "sqlite", "storage backend (memory, sqlite, postgres, redis, mongo)")
	pf.String("sqlite-path", "cadence.db", "SQLite database file")
	pf.String("definitions", "checkins.yaml", "check-in definitions file")

	// Bind flags to viper (errors are nil when flag exists)
	_ = opts.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = opts.v.BindPFlag("log.format", pf.Lookup("log-format"))
	_ = opts.v.BindPFlag("storage.backend", pf.Lookup("storage"))
	_ = opts.v.BindPFlag("storage.sqlite_path", pf.Lookup("sqlite-path"))
	_ = opts.v.BindPFlag("schedule.definitions_file", pf.Lookup("definitions"))

	root.AddCommand(
		newServeCommand(opts),
		newTickCommand(opts),
		newDispatchCommand(opts),
		newInstancesCommand(opts),
		newVersionCommand(),
	)
	return root
}

func (o *rootOptions) initConfig(cmd *cobra.Command) error {
	loader := config.NewLoaderWithViper(o.v)
	if o.cfgFile != "" {
		loader.WithConfigFile(o.cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	if used := loader.ConfigFileUsed(); used != "" {
		o.logger.Debug("config_loaded", "path", used)
	}
	return nil
}
