package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/construdata/permit-etl/internal/registry"
	"github.com/construdata/permit-etl/internal/validate"
)

var (
	validateInput  string
	validateOutput string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate and enrich merged records",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := &registry.Services{Config: cfg}
		engine := validate.New(svc.Params(), nil)
		result, err := engine.ValidateFile(cmd.Context(), validateInput, validateOutput)
		if err != nil {
			return eris.Wrap(err, "validate")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateInput, "input", "", "merged records JSON (required)")
	validateCmd.Flags().StringVar(&validateOutput, "output", "validated_data.json", "output file")
	_ = validateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(validateCmd)
}
