package cmd

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/askiada/go-stepcache/pkg/pipeline/cache/sqlite"
)

// NewInspectCommand returns the command listing an experiment's cached
// entries. This is the surface visualization tooling reads to diff two
// cached artifacts or render per-step status.
func NewInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the cached entries of an experiment",
		RunE:  inspectE,
	}

	flags := cmd.Flags()
	flags.String("cache", "file:stepcache.db", "sqlite DSN of the artifact cache")
	flags.String("experiment", "", "experiment name")

	_ = cmd.MarkFlagRequired("experiment")

	return cmd
}

func inspectE(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	log, err := newLogger()
	if err != nil {
		return err
	}

	dsn, _ := flags.GetString("cache")
	artifactCache, err := sqlite.New(dsn, sqlite.WithLogger(log))
	if err != nil {
		return err
	}
	defer artifactCache.Close()

	experiment, _ := flags.GetString("experiment")
	entries, err := artifactCache.List(cmd.Context(), experiment)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return errors.Wrap(err, "unable to encode cache entries")
	}

	return nil
}
