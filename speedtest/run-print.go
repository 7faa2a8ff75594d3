package speedtest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pkg/errors"
)

func formatDeciles(deciles []float64) string {
	numStrs := []string{}

	for _, decile := range deciles {
		numStrs = append(numStrs, fmt.Sprintf("%.3f", decile))
	}

	return fmt.Sprintf("%v", numStrs)
}

func printServer(printer *log.Logger, config Configuration) {
	if config.ServerName != "" {
		printer.Printf("Server: %s\n", config.ServerName)
	}
	printer.Printf("Download: %s\n", config.DownloadURL)
	printer.Printf("Upload: %s\n", config.UploadURL)
}

func printRTTMeasurement(printer *log.Logger, measurement *LatencyResult) {
	if measurement == nil {
		return
	}
	printer.Printf("RTT: %.3f ms\n", measurement.Millis)
	if stats := measurement.Stats; stats != nil && stats.NSamples > 1 {
		printer.Printf("RTT-stderr: %.3f ms\n", stats.StdErr)
		printer.Printf("RTT-min: %.3f ms\n", stats.Min)
		printer.Printf("RTT-max: %.3f ms\n", stats.Max)
		printer.Printf("RTT-n: %d\n", stats.NSamples)
	}
}

func printSpeedMeasurement(printer *log.Logger, label string, measurement *TransferResult) {
	if measurement == nil {
		return
	}
	printer.Printf("%s: %.3f Mbps\n", label, measurement.Mbps)
	if measurement.Partial {
		printer.Printf("%s-partial: true\n", label)
	}
	if stats := measurement.Stats; stats != nil {
		printer.Printf("%s-mean: %.3f Mbps\n", label, stats.Mean)
		printer.Printf("%s-stderr: %.3f Mbps\n", label, stats.StdErr)
		printer.Printf("%s-min: %.3f Mbps\n", label, stats.Min)
		printer.Printf("%s-max: %.3f Mbps\n", label, stats.Max)
		printer.Printf("%s-deciles: %s Mbps\n", label, formatDeciles(stats.Deciles))
	}
	printer.Printf("%s-tx: %.3f MiB\n", label, float64(measurement.Bytes)/1024/1024)
	printer.Printf("%s-time: %.3f s\n", label, measurement.Elapsed.Seconds())
	printer.Printf("%s-requests: %d\n", label, measurement.Requests)
	printer.Printf("%s-n: %d\n", label, measurement.NSamples)
}

// PrintReport writes a finished report in the same line-oriented format RunAndPrint uses.
func PrintReport(printer *log.Logger, report *Report) {
	printRTTMeasurement(printer, report.Latency)
	printer.Println()
	printSpeedMeasurement(printer, "Downlink", report.Download)
	printer.Println()
	printSpeedMeasurement(printer, "Uplink", report.Upload)
	if report.Result != nil {
		printer.Println()
		printer.Printf("ID: %s\n", report.Result.ID)
	}
}

// RunAndPrint runs one full test with o and prints the outcome to printer. Live
// progress goes to progress when it is not nil.
func RunAndPrint(ctx context.Context, printer *log.Logger, progress *log.Logger, o *Orchestrator) (*Report, error) {
	printServer(printer, o.engine.Configuration())
	printer.Println()

	var onProgress ProgressFunc
	if progress != nil {
		onProgress = func(p Progress) {
			if p.Percent >= 0 {
				progress.Printf("%s %6.2f Mbps %5.1f%% (%v)\n", p.Direction, p.Mbps, p.Percent, p.Elapsed.Round(time.Millisecond))
			} else {
				progress.Printf("%s %6.2f Mbps (%v)\n", p.Direction, p.Mbps, p.Elapsed.Round(time.Millisecond))
			}
		}
	}

	report, err := o.Run(ctx, onProgress)
	if err != nil {
		return nil, errors.Wrap(err, "speed test failed")
	}

	PrintReport(printer, report)
	return report, nil
}
