package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/store"
)

func newStatsCmd(a *app) *cobra.Command {
	var (
		recordID string
		state    string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show audit-log statistics",
		Long: `Show how many records were assembled or rejected and how many
diagnostics each stage produced per action. With --record, show one
record and its full diagnostic trail; with --list, list recent records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			if recordID != "" {
				rec, err := st.GetRecord(ctx, recordID)
				if err != nil {
					return err
				}
				diags, err := st.Diagnostics(ctx, recordID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"record":      rec,
					"diagnostics": diags,
				})
			}

			if cmd.Flags().Changed("list") {
				recs, err := st.ListRecords(ctx, store.ListOpts{Limit: limit, State: ofnr.State(state)})
				if err != nil {
					return err
				}
				if recs == nil {
					recs = []*store.Record{}
				}
				return printJSON(cmd.OutOrStdout(), recs)
			}

			stats, err := st.Stats(ctx)
			if err != nil {
				return err
			}
			stages := make([]string, 0, len(stats.ByStage))
			for s := range stats.ByStage {
				stages = append(stages, s)
			}
			sort.Strings(stages)
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"db_path": a.cfg.DBPath.Value,
				"stats":   stats,
				"stages":  stages,
			})
		},
	}
	cmd.Flags().StringVar(&recordID, "record", "", "Show one record with its diagnostics")
	cmd.Flags().IntVar(&limit, "list", 20, "List the N most recent records")
	cmd.Flags().StringVar(&state, "state", "", "Filter --list by final state (Assembled, Rejected)")
	return cmd
}
