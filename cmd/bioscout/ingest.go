package main

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"bioscout/internal/corpus"
	"bioscout/internal/domain"
)

var (
	ingestFull    bool
	ingestSource  string
	ingestReembed int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index source records into the document index",
	Long: `Renders species, observations and knowledge entries, splits them into chunks,
embeds them and writes them to the configured document index. Without flags only
records that changed since the last run are re-indexed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) (err error) {
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { err = joinClose(err, a) }()

		var report corpus.Report
		switch {
		case ingestReembed > 0:
			report, err = a.service.ReembedPending(ctx, ingestReembed)
		case ingestSource != "":
			ref, perr := parseSourceRef(ingestSource)
			if perr != nil {
				return perr
			}
			report, err = a.service.IngestSource(ctx, ref)
		default:
			report, err = a.service.IngestCorpus(ctx, ingestFull)
		}
		cmd.Printf("sources=%d skipped=%d chunks=%d unembedded=%d removed=%d\n",
			report.Sources, report.Skipped, report.Chunks, report.Unembedded, report.Removed)
		return err
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestFull, "full", false, "re-index every record and drop chunks of deleted records")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "re-index one record, as type:id (e.g. species:sp-leopard)")
	ingestCmd.Flags().IntVar(&ingestReembed, "reembed", 0, "retry embedding up to N chunks stored without vectors")
	rootCmd.AddCommand(ingestCmd)
}

func parseSourceRef(s string) (domain.SourceRef, error) {
	typ, id, ok := strings.Cut(s, ":")
	ref := domain.SourceRef{Type: domain.SourceType(typ), ID: id}
	if !ok || id == "" || !ref.Type.Valid() {
		return domain.SourceRef{}, goerr.Wrap(domain.ErrInvalidInput, "source must be species|observation|knowledge:id", goerr.V("source", s))
	}
	return ref, nil
}
