package main

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/makotom/mbpsmeter/internal/history"
	"github.com/makotom/mbpsmeter/speedtest"
)

func printResults(printer *log.Logger, results []*speedtest.SpeedResult) {
	for _, r := range results {
		flags := ""
		if r.DownloadPartial {
			flags += " download-partial"
		}
		if r.UploadPartial {
			flags += " upload-partial"
		}
		printer.Printf("%s  %s  down %8.3f Mbps  up %8.3f Mbps  ping %7.3f ms%s\n",
			r.Timestamp.Local().Format(time.RFC3339), r.ID, r.Download, r.Upload, r.Ping, flags)
	}
}

func newHistoryCmd(global *globalOpts) *cobra.Command {
	var (
		limit  int
		order  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger(global.verbose, zapcore.WarnLevel)
			defer logger.Sync()

			parsedOrder, err := history.ParseOrder(order)
			if err != nil {
				return err
			}
			f, err := global.loadFile()
			if err != nil {
				return err
			}
			store, closeStore, err := global.openStore(ctx, f)
			if err != nil {
				return err
			}
			defer closeStore()

			results, err := store.List(ctx, limit, parsedOrder)
			if err != nil {
				return err
			}

			if asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(results)
			}
			printResults(log.New(os.Stdout, "", 0), results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of results to show (0 shows all)")
	cmd.Flags().StringVar(&order, "order", "newest", "newest or oldest first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}
