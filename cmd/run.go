package cmd

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/askiada/go-stepcache/pkg/pipeline"
	"github.com/askiada/go-stepcache/pkg/pipeline/cache/sqlite"
	"github.com/askiada/go-stepcache/pkg/pipeline/config"
)

// NewRunCommand returns the command executing a pipeline configuration.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline configuration",
		RunE:  runE,
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to the pipeline configuration file (json)")
	flags.String("cache", "file:stepcache.db", "sqlite DSN of the artifact cache")
	flags.String("queue", "", "run only the named queue (default: all queues)")
	flags.StringSlice("samples", nil, "run only the given sample identifiers (default: all samples)")
	flags.Bool("clear-cache", false, "erase the experiment's cached artifacts before running")
	flags.Int("parallel", 1, "number of samples processed concurrently")

	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runE(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	log, err := newLogger()
	if err != nil {
		return err
	}

	configPath, _ := flags.GetString("config")
	pipe, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dsn, _ := flags.GetString("cache")
	artifactCache, err := sqlite.New(dsn, sqlite.WithLogger(log))
	if err != nil {
		return err
	}
	defer artifactCache.Close()

	exec, err := pipeline.NewExecutor(builtinRegistry(), artifactCache, pipeline.WithLogger(log))
	if err != nil {
		return err
	}

	var opts []pipeline.ExecOption
	if queue, _ := flags.GetString("queue"); queue != "" {
		opts = append(opts, pipeline.WithQueue(queue))
	}
	if samples, _ := flags.GetStringSlice("samples"); len(samples) > 0 {
		opts = append(opts, pipeline.WithSamples(samples...))
	}
	if clear, _ := flags.GetBool("clear-cache"); clear {
		opts = append(opts, pipeline.WithClearCache())
	}
	if workers, _ := flags.GetInt("parallel"); workers > 1 {
		opts = append(opts, pipeline.WithParallel(workers))
	}

	report, err := exec.Execute(cmd.Context(), pipe, opts...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return errors.Wrap(err, "unable to encode report")
	}

	if failed := report.Count(pipeline.StatusFailed); failed > 0 {
		return errors.Errorf("%d step(s) failed", failed)
	}

	return nil
}
