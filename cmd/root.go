// Package cmd wires the stepcache command line interface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/askiada/go-stepcache/internal/build"
	"github.com/askiada/go-stepcache/pkg/logger"
)

const envPrefix = "STEPCACHE"

// NewRootCommand returns the stepcache root command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stepcache",
		Short:         "Cached step-queue pipeline runner",
		Long:          "stepcache runs named queues of data-processing steps over input samples, caching every step artifact so re-runs only recompute what changed.",
		Version:       build.Version + " (commit: " + build.Commit + ", date: " + build.Date + ")",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			viper.SetEnvPrefix(envPrefix)
			viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			viper.AutomaticEnv()

			return viper.BindPFlags(cmd.Root().PersistentFlags())
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("log-level", "info", "log level: none, debug, info, warn, error")
	flags.String("log-format", "text", "log output format: text, json")

	return cmd
}

func newLogger() (*logger.ZapLogger, error) {
	return logger.NewLogger(viper.GetString("log-format"), viper.GetString("log-level"))
}
