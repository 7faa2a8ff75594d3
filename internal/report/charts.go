package report

import (
	"os"
	"path/filepath"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/makotom/mbpsmeter/speedtest"
)

const movingAveragePeriod = 10

type series struct {
	timestamps []time.Time
	values     []float64
}

func collect(results []*speedtest.SpeedResult, value func(*speedtest.SpeedResult) float64) series {
	s := series{}
	for _, r := range results {
		s.timestamps = append(s.timestamps, r.Timestamp)
		s.values = append(s.values, value(r))
	}
	return s
}

// yRange starts at zero and leaves headroom above the largest value. It also keeps a
// constant series from collapsing the axis.
func yRange(all ...series) *chart.ContinuousRange {
	max := 0.0
	for _, s := range all {
		for _, v := range s.values {
			if v > max {
				max = v
			}
		}
	}
	if max == 0 {
		max = 1
	}
	return &chart.ContinuousRange{Min: 0, Max: max * 1.1}
}

func timeSeries(name string, color int, s series) chart.TimeSeries {
	return chart.TimeSeries{
		Name: name,
		Style: chart.Style{
			StrokeColor: chart.GetDefaultColor(color),
			StrokeWidth: 2,
		},
		XValues: s.timestamps,
		YValues: s.values,
	}
}

func newChart(title, yName string, yr *chart.ContinuousRange, seriesList []chart.Series) chart.Chart {
	graph := chart.Chart{
		Title: title,
		TitleStyle: chart.Style{
			FontSize: 16,
		},
		Background: chart.Style{
			Padding: chart.Box{
				Top:    40,
				Left:   20,
				Right:  20,
				Bottom: 20,
			},
		},
		Width:  1200,
		Height: 400,
		XAxis: chart.XAxis{
			Name: "Time",
			NameStyle: chart.Style{
				FontSize: 12,
			},
			Style: chart.Style{
				StrokeColor: drawing.ColorBlack,
				FontSize:    10,
			},
			ValueFormatter: chart.TimeMinuteValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: yName,
			NameStyle: chart.Style{
				FontSize: 12,
			},
			Style: chart.Style{
				StrokeColor: drawing.ColorBlack,
				FontSize:    10,
			},
			GridMajorStyle: chart.Style{
				StrokeColor: drawing.Color{R: 200, G: 200, B: 200, A: 255},
				StrokeWidth: 1.0,
			},
			Range: yr,
		},
		Series: seriesList,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph
}

func render(graph chart.Chart, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := graph.Render(chart.PNG, file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (g *Generator) generateSpeedChart(outputDir string, results []*speedtest.SpeedResult) error {
	download := collect(results, func(r *speedtest.SpeedResult) float64 { return r.Download })
	upload := collect(results, func(r *speedtest.SpeedResult) float64 { return r.Upload })

	downloadSeries := timeSeries("Download", 0, download)
	seriesList := []chart.Series{
		downloadSeries,
		timeSeries("Upload", 1, upload),
	}

	if len(results) > movingAveragePeriod {
		seriesList = append(seriesList, chart.SMASeries{
			Name: "Download Moving Avg",
			Style: chart.Style{
				StrokeColor:     chart.GetDefaultColor(2),
				StrokeWidth:     2,
				StrokeDashArray: []float64{5, 5},
			},
			InnerSeries: downloadSeries,
			Period:      movingAveragePeriod,
		})
	}

	graph := newChart("Throughput", "Speed (Mbps)", yRange(download, upload), seriesList)
	return render(graph, filepath.Join(outputDir, "speed.png"))
}

func (g *Generator) generatePingChart(outputDir string, results []*speedtest.SpeedResult) error {
	ping := collect(results, func(r *speedtest.SpeedResult) float64 { return r.Ping })

	graph := newChart("Latency", "Ping (ms)", yRange(ping), []chart.Series{timeSeries("Ping", 0, ping)})
	return render(graph, filepath.Join(outputDir, "ping.png"))
}
