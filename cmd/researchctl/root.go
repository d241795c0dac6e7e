package main

import (
	"github.com/spf13/cobra"

	"github.com/waqasraza123/deep-research-agent/internal/config"
)

var loadConfig = config.Resolve

type globalOptions struct {
	runsDir  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "researchctl",
		Short: "Inspect and drive research run sandboxes",
		Long: `researchctl works directly on a runs directory: it fetches sources into a
run's cache with the same budget rules as the server, lists a run's artifacts
and reconciles its required deliverables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.runsDir, "runs-dir", "", "runs directory (default: RUNS_DIR or ./runs)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(newFetchCmd(opts))
	root.AddCommand(newArtifactsCmd(opts))
	root.AddCommand(newReconcileCmd(opts))
	return root
}

func (o *globalOptions) config() (config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, err
	}
	if o.runsDir != "" {
		cfg.RunsDir = o.runsDir
	}
	cfg.LogLevel = o.logLevel
	cfg.LogFormat = "text"
	return cfg, nil
}
