package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lipcheck/lipcheck/internal/db"
	"github.com/lipcheck/lipcheck/internal/runs"
)

func newRunsCommand(cc *commandContext) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent verification runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			database, err := db.New(cfg.DBPath(), logger)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			list, err := runs.NewRepository(database.Conn()).ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Kind", "State", "Stage", "Error", "Took", "Created"},
				runRows(list),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print runs as JSON")
	return cmd
}

func runRows(list []*runs.Run) [][]string {
	rows := make([][]string, 0, len(list))
	for _, r := range list {
		errText := r.ErrorKind
		if errText == "" {
			errText = "-"
		}
		rows = append(rows, []string{
			r.ID,
			r.Kind,
			r.State,
			r.Stage,
			errText,
			strconv.FormatInt(r.DurationMs, 10) + "ms",
			r.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}
