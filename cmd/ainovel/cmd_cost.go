package main

import (
	"github.com/spf13/cobra"
)

var (
	costDays   int
	costBudget float64
	costReset  bool
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Report spend against the daily budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		if costBudget > 0 {
			if err := theApp.tracker.SetBudget(costBudget); err != nil {
				return err
			}
		}
		if costReset {
			if err := theApp.tracker.ResetToday(); err != nil {
				return err
			}
		}
		return printJSON(theApp.tracker.Stats(costDays))
	},
}

func init() {
	costCmd.Flags().IntVar(&costDays, "days", 7, "trailing window to aggregate")
	costCmd.Flags().Float64Var(&costBudget, "set-budget", 0, "replace the daily ceiling")
	costCmd.Flags().BoolVar(&costReset, "reset-today", false, "clear today's ledger entries")
}
