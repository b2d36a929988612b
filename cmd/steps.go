package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/construdata/permit-etl/internal/registry"
)

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "List the steps available to pipeline definitions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg := registry.NewDefaultRegistry(&registry.Services{Config: cfg})
		for _, name := range reg.ListSteps() {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stepsCmd)
}
