package main

import (
	"github.com/spf13/cobra"

	"bioscout/internal/seed"
)

var seedIngest bool

var seedCmd = &cobra.Command{
	Use:   "seed [fixtures.yaml]",
	Short: "Load species, observations and knowledge entries into the data store",
	Long: `Loads records from a YAML fixtures file, or the bundled Islamabad sample data
when no file is given. Records with an existing id are replaced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var fixtures *seed.Fixtures
		if len(args) == 1 {
			fixtures, err = seed.Load(args[0])
		} else {
			fixtures, err = seed.Builtin()
		}
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { err = joinClose(err, a) }()

		counts, err := seed.Apply(ctx, a.store, fixtures)
		if err != nil {
			return err
		}
		cmd.Printf("seeded species=%d observations=%d knowledge=%d\n", counts.Species, counts.Observations, counts.Knowledge)

		if !seedIngest {
			return nil
		}
		report, err := a.service.IngestCorpus(ctx, false)
		cmd.Printf("indexed sources=%d chunks=%d unembedded=%d\n", report.Sources, report.Chunks, report.Unembedded)
		return err
	},
}

func init() {
	seedCmd.Flags().BoolVar(&seedIngest, "ingest", true, "index the seeded records")
	rootCmd.AddCommand(seedCmd)
}
