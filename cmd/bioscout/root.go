package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"bioscout/internal/config"
	"bioscout/internal/logging"
)

var (
	cfgPath  string
	logLevel string

	cfg    *config.AppConfig
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bioscout",
	Short: "Question answering over Islamabad's biodiversity records",
	Long: `bioscout indexes species profiles, citizen-science observations and knowledge
entries, answers questions from them and matches classifier labels to known species.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		if cfgPath == "" {
			cfg, _, err = config.LoadDefault()
		} else {
			cfg, err = config.Load(cfgPath)
		}
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger = logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file (uses ./config.yaml or ~/.config/bioscout/config.yaml if not provided)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}
