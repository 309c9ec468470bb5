package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "queryagent",
		Short:         "Web query agent with a semantic answer cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("QUERYAGENT_CONFIG"), "path to YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newCacheCmd(&configPath),
	)
	return root
}
