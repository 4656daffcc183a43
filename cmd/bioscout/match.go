package main

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"bioscout/internal/domain"
)

var matchCmd = &cobra.Command{
	Use:   "match [label]",
	Short: "Match a classifier label against the species registry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { err = joinClose(err, a) }()

		res, err := a.service.MatchSpecies(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var identifyCmd = &cobra.Command{
	Use:   "identify label=confidence [label=confidence ...]",
	Short: "Pick the most confident classifier label and match it against the registry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		predictions := make([]domain.Prediction, 0, len(args))
		for _, arg := range args {
			label, raw, ok := strings.Cut(arg, "=")
			conf, perr := strconv.ParseFloat(raw, 64)
			if !ok || perr != nil {
				return goerr.Wrap(domain.ErrInvalidInput, "prediction must be label=confidence", goerr.V("arg", arg))
			}
			predictions = append(predictions, domain.Prediction{Label: label, Confidence: conf})
		}

		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { err = joinClose(err, a) }()

		res, err := a.service.Identify(cmd.Context(), predictions)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(identifyCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal output")
	}
	cmd.Println(string(data))
	return nil
}
