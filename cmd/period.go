package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/finrecon/internal/period"
)

var periodCmd = &cobra.Command{
	Use:   "period <text>...",
	Short: "Show how filenames or period strings resolve to canonical periods",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "INPUT\tPERIOD\tPATTERN")
		for _, a := range args {
			p, pattern, ok := period.Match(a)
			if !ok {
				p, pattern = "-", "unresolved"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", a, p, pattern)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(periodCmd)
}
