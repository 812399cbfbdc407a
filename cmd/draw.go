package cmd

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/askiada/go-stepcache/pkg/pipeline/config"
	"github.com/askiada/go-stepcache/pkg/pipeline/drawer"
)

// NewDrawCommand returns the command rendering a queue's step graph as a
// graphviz DOT document.
func NewDrawCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Render a queue's step graph as DOT",
		RunE:  drawE,
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to the pipeline configuration file (json)")
	flags.String("queue", "", "queue to render")
	flags.String("output", "-", "output file (- for stdout)")

	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("queue")

	return cmd
}

func drawE(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	configPath, _ := flags.GetString("config")
	pipe, err := config.Load(configPath)
	if err != nil {
		return err
	}

	queueName, _ := flags.GetString("queue")
	q, ok := pipe.Queue(queueName)
	if !ok {
		return errors.Errorf("unknown queue %q", queueName)
	}

	d, err := drawer.New(q)
	if err != nil {
		return err
	}

	output, _ := flags.GetString("output")
	if output == "-" {
		return d.Draw(os.Stdout)
	}

	return d.DrawFile(output)
}
