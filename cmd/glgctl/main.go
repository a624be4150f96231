package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "glgctl",
		Short:         "Operator tooling for the GLG gateway",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(tokenCmd())
	root.AddCommand(verifyCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(configCmd())
	return root
}
