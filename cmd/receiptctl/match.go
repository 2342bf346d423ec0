package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emissionary/backend/config"
	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/infrastructure/dataset"
	"github.com/emissionary/backend/internal/usecase"
)

var matchCmd = &cobra.Command{
	Use:   "match <item name>",
	Short: "Look up an item name in the reference dataset",
	Long: `Clean an item name the way the pipeline does and match it against the
reference dataset (exact, then containment, then fuzzy). When nothing
matches, the keyword category fallback is shown instead.`,
	Example: `  receiptctl match "WHOLE MILK 1 GALLON"
  receiptctl match --dataset data/food_emissions.xlsx "chedder cheese"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().String("dataset", "", "Dataset path (.csv or .xlsx); defaults to the configured dataset")
	matchCmd.Flags().Float64("threshold", 0, "Fuzzy similarity threshold (default 0.7)")
}

// matchOutput is printed by the match command
type matchOutput struct {
	Input               string  `json:"input"`
	CanonicalName       string  `json:"canonicalName"`
	Matched             bool    `json:"matched"`
	MatchType           string  `json:"matchType,omitempty"`
	Similarity          float64 `json:"similarity,omitempty"`
	Record              string  `json:"record,omitempty"`
	Category            string  `json:"category"`
	EmissionFactorPerKg float64 `json:"emissionFactorPerKg"`
	Confidence          float64 `json:"confidence"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("dataset")
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path = cfg.Dataset.Path
	}

	store, err := dataset.Load(path)
	if err != nil {
		return err
	}

	input := strings.Join(args, " ")
	canonical := domain.Canonicalize(input)
	key := usecase.NewItemNameCleaner().Canonical(input)
	out := matchOutput{Input: input, CanonicalName: canonical}

	matcher := usecase.NewDatasetMatcher(store, usecase.MatchConfig{FuzzyThreshold: threshold})
	if m, ok := matcher.MatchItem(canonical, key); ok {
		out.Matched = true
		out.MatchType = string(m.Type)
		out.Similarity = m.Similarity
		out.Record = m.Record.Name
		out.Category = m.Record.Category
		out.EmissionFactorPerKg = m.Record.EmissionFactorPerKg
		out.Confidence = 1.0
	} else {
		est := usecase.NewCategoryFallback().Estimate(key, "")
		out.Category = est.Category
		out.EmissionFactorPerKg = est.EmissionFactorPerKg
		out.Confidence = est.Confidence
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
