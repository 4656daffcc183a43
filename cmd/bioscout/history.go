package main

import (
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [user-id]",
	Short: "Show a user's recent questions and answers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { err = joinClose(err, a) }()

		items, err := a.service.History(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return printJSON(cmd, items)
		}
		if len(items) == 0 {
			cmd.Println("No interactions found.")
			return nil
		}
		for _, it := range items {
			cmd.Printf("[%s] Q: %s\n", it.Timestamp.Local().Format("2006-01-02 15:04"), it.Question)
			cmd.Printf("    A: %s\n\n", it.Answer)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "maximum number of interactions (capped at 200)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(historyCmd)
}
