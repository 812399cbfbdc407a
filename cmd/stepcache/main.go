package main

import (
	"os"

	"github.com/askiada/go-stepcache/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand()
	rootCmd.AddCommand(cmd.NewRunCommand())
	rootCmd.AddCommand(cmd.NewInspectCommand())
	rootCmd.AddCommand(cmd.NewDrawCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
