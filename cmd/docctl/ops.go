package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/doctransform/internal/models"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "List the available operations",
	Run: func(cmd *cobra.Command, args []string) {
		for _, op := range models.Operations() {
			if conv, ok := op.Conversion(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s remote  %s -> %s\n", op, strings.Join(conv.Sources, ","), conv.Target)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s local\n", op)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of docctl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docctl %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(opsCmd)
	rootCmd.AddCommand(versionCmd)
}
