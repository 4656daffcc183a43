package main

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
)

var (
	askUser string
	askJSON bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { err = joinClose(err, a) }()

		res, err := a.service.Ask(cmd.Context(), strings.Join(args, " "), askUser)
		if err != nil {
			return err
		}
		if askJSON {
			data, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return goerr.Wrap(err, "failed to marshal answer")
			}
			cmd.Println(string(data))
			return nil
		}

		cmd.Println(res.Answer)
		if len(res.Sources) > 0 {
			cmd.Println()
			cmd.Println("Sources:")
			for _, s := range res.Sources {
				cmd.Printf("  - %s\n", s)
			}
		}
		if len(res.FollowUpQuestions) > 0 {
			cmd.Println()
			cmd.Println("You could also ask:")
			for _, q := range res.FollowUpQuestions {
				cmd.Printf("  ? %s\n", q)
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVarP(&askUser, "user", "u", "", "user id recorded with the interaction")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func joinClose(err error, a *app) error {
	if cerr := a.Close(); cerr != nil && err == nil {
		return cerr
	}
	return err
}
