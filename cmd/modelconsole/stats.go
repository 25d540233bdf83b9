package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"modelconsole/pkg/types"
)

func (a *app) statsCmd() *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "stats [MODEL]",
		Short: "Show usage statistics from the ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ledger, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			model := ""
			if len(args) == 1 {
				model = args[0]
			}
			st, err := ledger.Stats(ctx, model)
			if err != nil {
				return err
			}
			var records []types.UsageRecord
			if recent > 0 {
				if records, err = ledger.Recent(ctx, model, recent); err != nil {
					return err
				}
			}
			out := struct {
				Model  string              `json:"model,omitempty"`
				Stats  types.UsageStats    `json:"stats"`
				Recent []types.UsageRecord `json:"recent,omitempty"`
			}{model, st, records}
			return a.emit(out, func(w io.Writer) {
				title := "all models"
				if model != "" {
					title = model
				}
				printStats(w, title, st)
				if len(records) == 0 {
					return
				}
				fmt.Fprintln(w)
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{
						r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.ModelName, string(r.Operation),
						strconv.FormatInt(r.PromptTokens, 10), strconv.FormatInt(r.CompletionTokens, 10),
						fmt.Sprintf("%.2fs", r.DurationSeconds),
					})
				}
				table(w, "TIME\tMODEL\tOP\tPROMPT\tCOMPLETION\tDURATION", rows)
			})
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 0, "also list the N most recent usage records")
	return cmd
}
