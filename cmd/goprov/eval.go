package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brunobiangulo/goprov/eval"
)

var (
	evalDataset    string
	evalDifficulty string
	evalOut        string
)

// evalCmd runs labelled datasets through the resolver.
var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score resolution against labelled datasets",
	Long: `Eval resolves the triples of labelled datasets and compares each span
with its expected type, evidence and chunks.

Without --dataset the built-in datasets are run, filtered by --difficulty.

Example:
  goprov eval --difficulty hard
  goprov eval --dataset gold.json --out report.json`,
	Args: cobra.NoArgs,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVar(&evalDataset, "dataset", "", "JSON dataset file")
	evalCmd.Flags().StringVar(&evalDifficulty, "difficulty", "all", "built-in datasets to run: easy, medium, hard or all")
	evalCmd.Flags().StringVarP(&evalOut, "out", "o", "", "write the reports as JSON to this path")
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	datasets, err := selectDatasets(evalDataset, evalDifficulty)
	if err != nil {
		return err
	}

	ev := eval.NewEvaluator(cfg.Resolution)
	var (
		reports []*eval.Report
		failed  int
	)
	for _, ds := range datasets {
		report, err := ev.Run(cmd.Context(), ds)
		if err != nil {
			return err
		}
		reports = append(reports, report)
		failed += report.Failed
		fmt.Fprintln(cmd.OutOrStdout(), eval.FormatReport(report))
	}

	if evalOut != "" {
		if err := writeOutput(cmd.OutOrStdout(), evalOut, reports); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d test(s) failed", failed)
	}
	return nil
}

// selectDatasets loads path when set, otherwise picks built-in datasets.
func selectDatasets(path, difficulty string) ([]eval.Dataset, error) {
	if path != "" {
		ds, err := eval.LoadDataset(path)
		if err != nil {
			return nil, err
		}
		return []eval.Dataset{ds}, nil
	}

	all := eval.AllDatasets()
	if difficulty == "" || difficulty == "all" {
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]eval.Dataset, 0, len(keys))
		for _, k := range keys {
			out = append(out, all[k])
		}
		return out, nil
	}
	ds, ok := all[difficulty]
	if !ok {
		return nil, fmt.Errorf("unknown difficulty %q", difficulty)
	}
	return []eval.Dataset{ds}, nil
}
