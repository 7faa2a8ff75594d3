package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/m-lab/go/rtx"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/makotom/mbpsmeter/internal/config"
	"github.com/makotom/mbpsmeter/internal/history"
	"github.com/makotom/mbpsmeter/speedtest"
)

type globalOpts struct {
	configPath string
	dbPath     string
	historyURL string
	keep       int
	verbose    bool
}

type runOpts struct {
	serverConfigURL string
	downloadURL     string
	uploadURL       string
	pingURL         string
	testIP4         bool
	testIP6         bool
	strategy        string
	concurrency     int
	chunkSize       int
	uploadChunks    int
	duration        time.Duration
	maxDuration     time.Duration
	pingSamples     int
	noSave          bool
	quiet           bool
	showVersion     bool
}

// newLogger logs at debug level with --verbose, and from level otherwise.
func newLogger(verbose bool, level zapcore.Level) *zap.Logger {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zapConfig.Build()
	rtx.Must(err, "could not build logger")
	zap.ReplaceGlobals(logger)
	return logger
}

// loadFile returns the config file named by --config, or nil when there is none.
func (g *globalOpts) loadFile() (*config.File, error) {
	if g.configPath == "" {
		return nil, nil
	}
	f, err := config.Load(g.configPath)
	if err != nil {
		return nil, speedtest.ConfigErrorf("%v", err)
	}
	return f, nil
}

// openStore picks the remote history endpoint when one is configured, else the local
// database. The returned function releases the store.
func (g *globalOpts) openStore(ctx context.Context, f *config.File) (history.Store, func(), error) {
	historyURL, dbPath, keep := g.historyURL, g.dbPath, g.keep
	if f != nil {
		if historyURL == "" {
			historyURL = f.History.URL
		}
		if dbPath == "" {
			dbPath = f.History.Path
		}
		if keep == 0 {
			keep = f.History.Keep
		}
	}

	if historyURL != "" {
		return history.NewRemote(historyURL, nil), func() {}, nil
	}
	if dbPath == "" {
		dbPath = config.Default().History.Path
	}

	db, err := history.Open(ctx, dbPath, history.Keep(keep))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not open history database %s", dbPath)
	}
	return db, func() { db.Close() }, nil
}

// buildConfiguration layers defaults, config file, remote server config and flags.
func buildConfiguration(ctx context.Context, cmd *cobra.Command, f *config.File, opts *runOpts) (speedtest.Configuration, error) {
	engineConfig := speedtest.DefaultConfiguration()
	if f != nil {
		f.Apply(&engineConfig)
	}

	serverConfigURL := opts.serverConfigURL
	if serverConfigURL == "" && f != nil {
		serverConfigURL = f.Server.ConfigURL
	}
	if serverConfigURL != "" {
		info, err := config.FetchServerInfo(ctx, nil, serverConfigURL)
		if err != nil {
			return engineConfig, speedtest.ConfigErrorf("%v", err)
		}
		info.Apply(&engineConfig)
	}

	flags := cmd.Flags()
	if flags.Changed("download-url") {
		engineConfig.DownloadURL = opts.downloadURL
	}
	if flags.Changed("upload-url") {
		engineConfig.UploadURL = opts.uploadURL
	}
	if flags.Changed("ping-url") {
		engineConfig.PingURL = opts.pingURL
	}
	if flags.Changed("strategy") {
		engineConfig.UploadStrategy = speedtest.UploadStrategy(opts.strategy)
	}
	if flags.Changed("concurrency") {
		engineConfig.UploadStrategy = speedtest.UploadConcurrent
		engineConfig.MaxConcurrentUploads = opts.concurrency
	}
	if flags.Changed("chunk-size") {
		engineConfig.ChunkSize = opts.chunkSize
	}
	if flags.Changed("upload-chunks") {
		engineConfig.UploadChunkCount = opts.uploadChunks
	}
	if flags.Changed("duration") {
		engineConfig.MinDuration = opts.duration
	}
	if flags.Changed("max-duration") {
		engineConfig.MaxDuration = opts.maxDuration
	}
	if flags.Changed("ping-samples") {
		engineConfig.PingSamples = opts.pingSamples
	}

	return engineConfig, engineConfig.Validate()
}

func printTimestamp(printer *log.Logger) {
	printer.Println()
	printer.Printf("At: %s\n", time.Now().Format(time.RFC1123Z))
	printer.Println()
}

func runSpeedTest(ctx context.Context, logger *zap.Logger, printer *log.Logger, progress *log.Logger, engineConfig speedtest.Configuration, protocol string, sink speedtest.Sink) error {
	client := &http.Client{Transport: speedtest.NewHTTPRoundTripper(protocol, speedtest.DefaultDialTimeout)}
	transport := speedtest.NewHTTPTransport(engineConfig, client)

	engine, err := speedtest.NewEngine(engineConfig, transport, speedtest.WithLogger(logger.With(zap.String("protocol", protocol))))
	if err != nil {
		return err
	}

	opts := []speedtest.OrchestratorOption{}
	if sink != nil {
		opts = append(opts, speedtest.WithSink(sink))
	}

	printTimestamp(printer)
	_, err = speedtest.RunAndPrint(ctx, printer, progress, speedtest.NewOrchestrator(engine, opts...))
	return err
}

func (opts *runOpts) register(flags *pflag.FlagSet) {
	flags.StringVar(&opts.serverConfigURL, "server-config", "", "URL of a server's /api/config endpoint")
	flags.StringVar(&opts.downloadURL, "download-url", "", "Download endpoint")
	flags.StringVar(&opts.uploadURL, "upload-url", "", "Upload endpoint")
	flags.StringVar(&opts.pingURL, "ping-url", "", "Ping endpoint (default: HEAD on the download endpoint)")
	flags.BoolVarP(&opts.testIP4, "ip4", "4", false, "Ensure measurements over IPv4")
	flags.BoolVarP(&opts.testIP6, "ip6", "6", false, "Ensure measurements over IPv6")
	flags.StringVar(&opts.strategy, "strategy", string(speedtest.UploadSequential), "Upload strategy: sequential or concurrent")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "Upload requests in flight at once; implies --strategy=concurrent")
	flags.IntVar(&opts.chunkSize, "chunk-size", 0, "Upload chunk size in bytes")
	flags.IntVar(&opts.uploadChunks, "upload-chunks", 0, "Number of upload requests (0 uploads for --duration)")
	flags.DurationVar(&opts.duration, "duration", 0, "Minimum duration of each transfer")
	flags.DurationVar(&opts.maxDuration, "max-duration", 0, "Maximum duration of each transfer")
	flags.IntVar(&opts.pingSamples, "ping-samples", 0, "Number of latency probes to average")
	flags.BoolVar(&opts.noSave, "no-save", false, "Do not record the result in the history")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print live progress")
	flags.BoolVar(&opts.showVersion, "version", false, "Show version information and exit")
}

func newRootCmd() *cobra.Command {
	global := &globalOpts{}
	opts := &runOpts{}

	cmd := &cobra.Command{
		Use:           "mbpsmeter",
		Short:         "Measure download and upload throughput and latency against a speed test server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			printer := log.New(os.Stdout, "", 0)
			printer.Println(versionString())
			if opts.showVersion {
				return nil
			}

			ctx := cmd.Context()
			logger := newLogger(global.verbose, zapcore.WarnLevel)
			defer logger.Sync()

			f, err := global.loadFile()
			if err != nil {
				return err
			}
			engineConfig, err := buildConfiguration(ctx, cmd, f, opts)
			if err != nil {
				return err
			}

			var sink speedtest.Sink
			if !opts.noSave {
				store, closeStore, err := global.openStore(ctx, f)
				if err != nil {
					return err
				}
				defer closeStore()
				sink = store
			}

			var progress *log.Logger
			if !opts.quiet {
				progress = log.New(os.Stderr, "", 0)
			}

			// if none specified, let the dialer pick a protocol
			protocols := []string{}
			if opts.testIP4 {
				protocols = append(protocols, "tcp4")
			}
			if opts.testIP6 {
				protocols = append(protocols, "tcp6")
			}
			if len(protocols) == 0 {
				protocols = append(protocols, "tcp")
			}

			for _, protocol := range protocols {
				if err := runSpeedTest(ctx, logger, printer, progress, engineConfig, protocol, sink); err != nil {
					return err
				}
			}
			return nil
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.StringVar(&global.configPath, "config", "", "YAML config file; created with defaults if missing")
	persistent.StringVar(&global.dbPath, "db", "", "sqlite database holding the result history")
	persistent.StringVar(&global.historyURL, "history-url", "", "Base URL of a server keeping the result history instead of the local database")
	persistent.IntVar(&global.keep, "keep", 0, "Number of results kept in the local database (0 keeps all)")
	persistent.BoolVarP(&global.verbose, "verbose", "v", false, "Log debug output to stderr")

	opts.register(cmd.Flags())

	cmd.AddCommand(
		newHistoryCmd(global),
		newReportCmd(global),
		newServeCmd(global),
		newVersionCmd(),
	)
	return cmd
}

func versionString() string {
	return fmt.Sprintf("mbpsmeter %s (%s)", BuildName, BuildAnnotation)
}
