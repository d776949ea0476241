package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/config"
)

// Set by -ldflags "-X main.version=..." at release time.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "researchd",
		Short:         "Research agent service with cancellable streamed tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to researchd.yaml (default $"+config.EnvConfigPath+")")

	root.AddCommand(newServeCmd(), newTokenCmd(), newVersionCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "researchd:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "researchd", version)
		},
	}
}
