package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/construdata/permit-etl/internal/merge"
)

var (
	mergeCSV              string
	mergeProjectsDir      string
	mergeProfessionalsDir string
	mergeOutput           string
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge the permits CSV with project and professional JSON records",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := merge.New(nil)
		result, err := engine.MergeToFile(cmd.Context(), mergeCSV, mergeProjectsDir, mergeProfessionalsDir, mergeOutput)
		if err != nil {
			return eris.Wrap(err, "merge")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeCSV, "csv", "", "normalized permits CSV (required)")
	mergeCmd.Flags().StringVar(&mergeProjectsDir, "projects-dir", "", "directory of per-project JSON files (required)")
	mergeCmd.Flags().StringVar(&mergeProfessionalsDir, "professionals-dir", "", "directory of per-professional JSON files (required)")
	mergeCmd.Flags().StringVar(&mergeOutput, "output", "merged_data.json", "output file")
	_ = mergeCmd.MarkFlagRequired("csv")
	_ = mergeCmd.MarkFlagRequired("projects-dir")
	_ = mergeCmd.MarkFlagRequired("professionals-dir")
	rootCmd.AddCommand(mergeCmd)
}
