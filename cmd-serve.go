package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/makotom/mbpsmeter/internal/config"
	"github.com/makotom/mbpsmeter/internal/history"
	"github.com/makotom/mbpsmeter/internal/server"
)

func newServeCmd(global *globalOpts) *cobra.Command {
	var (
		listen         string
		name           string
		downloadURL    string
		streamDuration time.Duration
		historyDB      string
		historyKeep    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a speed test server with download, upload, ping and history endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger(global.verbose, zapcore.InfoLevel)
			defer logger.Sync()

			if !global.verbose {
				gin.SetMode(gin.ReleaseMode)
			}

			info := config.Server{Name: name, URL: downloadURL}
			if f, err := global.loadFile(); err != nil {
				return err
			} else if f != nil && !cmd.Flags().Changed("name") {
				info.Name = f.Server.Name
			}

			store, err := history.Open(ctx, historyDB, history.Keep(historyKeep))
			if err != nil {
				return errors.Wrapf(err, "could not open history database %s", historyDB)
			}
			defer store.Close()

			s, err := server.New(
				server.WithStore(store),
				server.WithServerInfo(info),
				server.WithLogger(logger),
				server.WithStreamDuration(streamDuration),
				server.WithHistoryLimit(historyKeep),
			)
			if err != nil {
				return err
			}

			logger.Info("starting server", zap.String("listen", listen), zap.String("history", historyDB))
			return s.ListenAndServe(ctx, listen)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", ":8000", "Address to listen on")
	cmd.Flags().StringVar(&name, "name", "", "Server name published on /api/config")
	cmd.Flags().StringVar(&downloadURL, "download-url", "", "Download URL published on /api/config instead of this server's /download")
	cmd.Flags().DurationVar(&streamDuration, "stream-duration", server.DefaultStreamDuration, "How long an unsized /download streams")
	cmd.Flags().StringVar(&historyDB, "history-db", "server-history.db", "sqlite database backing /history")
	cmd.Flags().IntVar(&historyKeep, "history-keep", server.DefaultHistoryLimit, "Number of results kept by /history")
	return cmd
}
