package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/earthcopilot/mapview/internal/model"
	"github.com/earthcopilot/mapview/internal/store"
)

var (
	analysesSession string
	analysesModule  string
	analysesStatus  string
	analysesLimit   int
	pruneOlderThan  time.Duration
)

var analysesCmd = &cobra.Command{
	Use:   "analyses",
	Short: "List recorded pin and comparison analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListAnalyses(ctx, store.AnalysisFilter{
			SessionID: analysesSession,
			Module:    model.Module(analysesModule),
			Status:    model.AnalysisStatus(analysesStatus),
			Limit:     analysesLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list analyses")
		}

		if len(recs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No analyses found.")
			return nil
		}
		return formatAnalysesList(cmd.OutOrStdout(), recs)
	},
}

var analysesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete analyses created before --older-than ago",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan <= 0 {
			return eris.New("--older-than must be positive")
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.PruneAnalyses(ctx, time.Now().Add(-pruneOlderThan))
		if err != nil {
			return eris.Wrap(err, "prune analyses")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d analyses.\n", n)
		return nil
	},
}

func init() {
	analysesCmd.Flags().StringVar(&analysesSession, "session", "", "filter by session ID")
	analysesCmd.Flags().StringVar(&analysesModule, "module", "", "filter by module (terrain, mobility, damage, comparison)")
	analysesCmd.Flags().StringVar(&analysesStatus, "status", "", "filter by status (running, complete, cancelled, failed)")
	analysesCmd.Flags().IntVar(&analysesLimit, "limit", 20, "max analyses to show")
	analysesPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "age of the oldest analysis to keep")
	analysesCmd.AddCommand(analysesPruneCmd)
	rootCmd.AddCommand(analysesCmd)
}

func formatAnalysesList(out io.Writer, recs []model.AnalysisRecord) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSESSION\tMODULE\tSTATUS\tLOCATION\tCREATED\tDURATION")
	for _, r := range recs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.CreatedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f,%.4f\t%s\t%s\n",
			truncateID(r.ID),
			truncateID(r.SessionID),
			r.Module,
			r.Status,
			r.Lat, r.Lng,
			r.CreatedAt.Format(time.DateTime),
			dur,
		)
	}
	return w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
