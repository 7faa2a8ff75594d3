package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/makotom/mbpsmeter/internal/history"
	"github.com/makotom/mbpsmeter/speedtest"
)

// ErrNotEnoughData is returned when the history holds fewer than two results taken at
// different times, which is the least a chart can be drawn from.
var ErrNotEnoughData = errors.New("at least two results taken at different times are needed for a report")

type Lister interface {
	List(ctx context.Context, limit int, order history.Order) ([]*speedtest.SpeedResult, error)
}

// Generator renders the stored history into charts and a text summary.
type Generator struct {
	store  Lister
	logger *zap.Logger
	now    func() time.Time
}

func NewGenerator(store Lister, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Generate writes speed.png, ping.png and summary.txt for the limit newest results
// (all of them when limit <= 0) into a new timestamped directory below outputDir and
// returns that directory.
func (g *Generator) Generate(ctx context.Context, outputDir string, limit int) (string, error) {
	results, err := g.store.List(ctx, limit, history.OldestFirst)
	if err != nil {
		return "", errors.Wrap(err, "could not load history")
	}
	if len(results) < 2 || !results[len(results)-1].Timestamp.After(results[0].Timestamp) {
		return "", ErrNotEnoughData
	}

	timestamp := g.now().Format("2006-01-02_15-04-05")
	reportDir := filepath.Join(outputDir, fmt.Sprintf("speed_report_%s", timestamp))
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create report directory")
	}

	if err := g.generateSpeedChart(reportDir, results); err != nil {
		return "", errors.Wrap(err, "failed to generate speed chart")
	}
	if err := g.generatePingChart(reportDir, results); err != nil {
		return "", errors.Wrap(err, "failed to generate ping chart")
	}
	if err := g.generateTextReport(reportDir, results); err != nil {
		return "", errors.Wrap(err, "failed to generate text report")
	}

	g.logger.Info("report generated", zap.String("dir", reportDir), zap.Int("results", len(results)))
	return reportDir, nil
}
