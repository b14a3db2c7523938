package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/strataregula/doe-runner/pkg/backend"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the registered execution backends",
	Run: func(cmd *cobra.Command, args []string) {
		registry := backend.NewRegistry(log)

		for _, info := range registry.List() {
			deterministic := ""
			if info.Deterministic {
				deterministic = " (deterministic)"
			}

			fmt.Printf("%-10s %s%s\n", info.Name, info.Description, deterministic)
		}
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
