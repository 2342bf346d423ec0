package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/emissionary/backend/internal/usecase"
)

var scoreCmd = &cobra.Command{
	Use:   "score [text-file]",
	Short: "Grade OCR text quality (0-10)",
	Long:  `Score receipt text the way the pipeline's quality gate does. Reads stdin when no file is given.`,
	Example: `  receiptctl score receipt.txt
  tesseract scan.png - | receiptctl score --min-score 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().Int("min-score", 0, "Pass threshold (default 3)")
	scoreCmd.Flags().Int("min-length", 0, "Minimum text length (default 20)")
}

func runScore(cmd *cobra.Command, args []string) error {
	minScore, _ := cmd.Flags().GetInt("min-score")
	minLength, _ := cmd.Flags().GetInt("min-length")

	var (
		text []byte
		err  error
	)
	if len(args) == 1 {
		text, err = os.ReadFile(args[0])
	} else {
		text, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("reading text: %w", err)
	}

	validator := usecase.NewTextQualityValidator(usecase.QualityConfig{MinScore: minScore, MinTextLength: minLength})
	report := validator.Score(string(text))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
