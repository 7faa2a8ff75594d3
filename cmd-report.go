package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/makotom/mbpsmeter/internal/report"
)

func newReportCmd(global *globalOpts) *cobra.Command {
	var (
		outputDir string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render charts and a summary of recorded results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger(global.verbose, zapcore.WarnLevel)
			defer logger.Sync()

			f, err := global.loadFile()
			if err != nil {
				return err
			}
			store, closeStore, err := global.openStore(ctx, f)
			if err != nil {
				return err
			}
			defer closeStore()

			dir, err := report.NewGenerator(store, logger).Generate(ctx, outputDir, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report generated in: %s\n", dir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "reports", "Directory the report is written below")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of newest results to include (0 includes all)")
	return cmd
}
