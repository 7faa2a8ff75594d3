package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/makotom/mbpsmeter/speedtest"
)

const latestResults = 10

type summary struct {
	mean, min, max float64
}

func summarize(results []*speedtest.SpeedResult, value func(*speedtest.SpeedResult) float64) summary {
	s := summary{min: value(results[0]), max: value(results[0])}
	n := float64(len(results))
	for _, r := range results {
		v := value(r)
		s.mean += v / n
		if v < s.min {
			s.min = v
		}
		if v > s.max {
			s.max = v
		}
	}
	return s
}

func partial(r *speedtest.SpeedResult) string {
	switch {
	case r.DownloadPartial && r.UploadPartial:
		return " (partial download, partial upload)"
	case r.DownloadPartial:
		return " (partial download)"
	case r.UploadPartial:
		return " (partial upload)"
	default:
		return ""
	}
}

// generateTextReport expects results oldest first.
func (g *Generator) generateTextReport(outputDir string, results []*speedtest.SpeedResult) error {
	filename := filepath.Join(outputDir, "summary.txt")
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := g.writeSummary(file, results); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// writeSummary reports the first write error, if any, once the buffer is flushed.
func (g *Generator) writeSummary(w io.Writer, results []*speedtest.SpeedResult) error {
	out := bufio.NewWriter(w)
	first, last := results[0], results[len(results)-1]

	fmt.Fprintf(out, "Speed Test Report\n")
	fmt.Fprintf(out, "Generated: %s\n", g.now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Period: %s - %s\n", first.Timestamp.Format("2006-01-02 15:04:05"), last.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Results: %d\n\n", len(results))
	fmt.Fprintln(out, strings.Repeat("=", 60))

	fmt.Fprintln(out, "\nOVERALL STATISTICS")
	for _, metric := range []struct {
		label string
		unit  string
		value func(*speedtest.SpeedResult) float64
	}{
		{"Download", "Mbps", func(r *speedtest.SpeedResult) float64 { return r.Download }},
		{"Upload", "Mbps", func(r *speedtest.SpeedResult) float64 { return r.Upload }},
		{"Ping", "ms", func(r *speedtest.SpeedResult) float64 { return r.Ping }},
	} {
		s := summarize(results, metric.value)
		fmt.Fprintf(out, "%s\n", metric.label)
		fmt.Fprintf(out, "  Average: %.2f %s\n", s.mean, metric.unit)
		fmt.Fprintf(out, "  Min: %.2f %s\n", s.min, metric.unit)
		fmt.Fprintf(out, "  Max: %.2f %s\n", s.max, metric.unit)
	}

	nPartial := 0
	for _, r := range results {
		if r.DownloadPartial || r.UploadPartial {
			nPartial++
		}
	}
	fmt.Fprintf(out, "\nPartial results: %d\n\n", nPartial)
	fmt.Fprintln(out, strings.Repeat("=", 60))

	fmt.Fprintf(out, "\nLATEST RESULTS\n")
	for i := len(results) - 1; i >= 0 && i >= len(results)-latestResults; i-- {
		r := results[i]
		fmt.Fprintf(out, "%s  down %.2f Mbps  up %.2f Mbps  ping %.2f ms%s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.Download, r.Upload, r.Ping, partial(r))
	}

	return out.Flush()
}
