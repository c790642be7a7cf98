package main

import (
	"fmt"
	"os"

	"github.com/lychee-technology/duplex"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type rootOptions struct {
	configPath string
	verbose    bool
	config     *duplex.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "duplex-tools",
		Short:         "Operate the dual-store entity cache",
		Long:          "duplex-tools prepares backend schemas, inspects and imports entities and moves snapshots in and out of the dual-store entity cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := duplex.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			opts.config = cfg
			return setupLogger(opts.verbose)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", getenvDefault("DUPLEX_CONFIG", "duplex.yaml"), "Path to the YAML config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(
		newInitDBCmd(opts),
		newListCmd(opts),
		newSearchCmd(opts),
		newRefreshCmd(opts),
		newBackupCmd(opts),
		newRestoreCmd(opts),
		newImportCmd(opts),
	)
	return root
}

func setupLogger(verbose bool) error {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		_ = zap.L().Sync()
		os.Exit(1)
	}
	_ = zap.L().Sync()
}
