package main

import (
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"bioscout/internal/domain"
	"bioscout/internal/summarizer"
	"bioscout/internal/tui"
)

var tuiUser string

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Ask questions interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) (err error) {
		ctx := cmd.Context()
		// The alt screen owns the terminal, so log lines would corrupt the display.
		if !strings.EqualFold(cfg.Log.Level, "debug") {
			logger = slog.New(slog.DiscardHandler)
		}
		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { err = joinClose(err, a) }()

		species, err := a.store.GetAllSpecies(ctx)
		if err != nil {
			return err
		}
		knowledge, err := a.store.GetKnowledgeSources(ctx)
		if err != nil {
			return err
		}
		observations, err := a.store.GetAllObservations(ctx, domain.ObservationFilter{})
		if err != nil {
			return err
		}
		summary := fmt.Sprintf("%d species, %d observations, %d knowledge entries", len(species), len(observations), len(knowledge))
		texts := make([]string, len(knowledge))
		for i, k := range knowledge {
			texts[i] = k.Content
		}
		if digest := summarizer.Digest(texts, 2); digest != "" {
			summary += "\n" + digest
		}

		m := tui.New(a.service, tuiUser, summary)
		if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
			return goerr.Wrap(err, "tui failed")
		}
		return nil
	},
}

func init() {
	tuiCmd.Flags().StringVarP(&tuiUser, "user", "u", "", "user id recorded with each question")
	rootCmd.AddCommand(tuiCmd)
}
