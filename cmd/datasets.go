package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/earthcopilot/mapview/internal/catalog"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the datasets offered by the backend catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		sel, err := catalog.LoadDatasets(cmd.Context(), initBackend(), nil)
		if err != nil {
			return err
		}
		if sel.Len() == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No datasets found.")
			return nil
		}
		return formatDatasets(cmd.OutOrStdout(), sel.Options())
	},
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
}

func formatDatasets(out io.Writer, opts []catalog.Option) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tDESCRIPTION")
	for _, o := range opts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.ID, o.Label, truncate(o.Tooltip, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
