package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/finrecon/internal/model"
	"github.com/sells-group/finrecon/internal/period"
)

var (
	factsMetrics bool
	factsJSON    bool
)

var factsCmd = &cobra.Command{
	Use:   "facts <company> [period]",
	Short: "Show stored periods, facts or metrics for a company",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("facts"); err != nil {
			return err
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ctx := cmd.Context()
		company := args[0]
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			periods, err := st.ListPeriods(ctx, company)
			if err != nil {
				return eris.Wrap(err, "list periods")
			}
			for _, p := range periods {
				fmt.Fprintln(out, p)
			}
			return nil
		}

		p, err := canonicalPeriod(args[1])
		if err != nil {
			return err
		}
		if factsMetrics {
			metrics, err := st.GetMetrics(ctx, company, p)
			if err != nil {
				return eris.Wrap(err, "get metrics")
			}
			if factsJSON {
				return writeJSON(out, metrics)
			}
			return printMetrics(out, metrics)
		}

		facts, err := st.GetFacts(ctx, company, p)
		if err != nil {
			return eris.Wrap(err, "get facts")
		}
		if factsJSON {
			return writeJSON(out, facts)
		}
		return printFacts(out, facts)
	},
}

func canonicalPeriod(raw string) (string, error) {
	if period.Valid(raw) {
		return raw, nil
	}
	p, ok := period.Resolve(raw)
	if !ok {
		return "", eris.Errorf("cannot resolve period %q", raw)
	}
	return p, nil
}

func printFacts(w io.Writer, facts []model.LineItemFact) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE ITEM\tSCENARIO\tAMOUNT\tSOURCE\tCHANGES")
	for _, f := range facts {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%d\n", f.LineItemID, f.Scenario, f.Amount, f.SourceFile, len(f.Changelog))
	}
	return tw.Flush()
}

func printMetrics(w io.Writer, metrics []model.ComputedMetric) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tVALUE\tUNIT")
	for _, m := range metrics {
		fmt.Fprintf(tw, "%s\t%.4f\t%s\n", m.MetricID, m.Value, m.Unit)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "write json")
}

func init() {
	factsCmd.Flags().BoolVar(&factsMetrics, "metrics", false, "show computed metrics instead of facts")
	factsCmd.Flags().BoolVar(&factsJSON, "json", false, "print JSON")
	rootCmd.AddCommand(factsCmd)
}
