package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"

	"github.com/makotom/mbpsmeter/internal/history"
	"github.com/makotom/mbpsmeter/speedtest"
)

type sliceLister []*speedtest.SpeedResult

func (l sliceLister) List(ctx context.Context, limit int, order history.Order) ([]*speedtest.SpeedResult, error) {
	ret := []*speedtest.SpeedResult(l)
	if limit > 0 && limit < len(ret) {
		ret = ret[len(ret)-limit:]
	}
	return ret, nil
}

type failingLister struct{}

func (failingLister) List(ctx context.Context, limit int, order history.Order) ([]*speedtest.SpeedResult, error) {
	return nil, errors.New("database is locked")
}

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func results(n int) sliceLister {
	ret := sliceLister{}
	for i := 0; i < n; i++ {
		ret = append(ret, &speedtest.SpeedResult{
			ID:        "r",
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Download:  float64(90 + i),
			Upload:    float64(20 + i%3),
			Ping:      float64(10 + i%5),
		})
	}
	return ret
}

func newTestGenerator(store Lister) *Generator {
	g := NewGenerator(store, nil)
	g.now = func() time.Time { return start.Add(48 * time.Hour) }
	return g
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Assert(t, bytes.HasPrefix(data, []byte("\x89PNG")), "%s is not a PNG", path)
}

func TestGenerate(t *testing.T) {
	store := results(12)
	store[3].UploadPartial = true

	dir, err := newTestGenerator(store).Generate(context.Background(), t.TempDir(), 0)
	assert.NilError(t, err)
	assert.Equal(t, filepath.Base(dir), "speed_report_2024-03-03_12-00-00")

	assertPNG(t, filepath.Join(dir, "speed.png"))
	assertPNG(t, filepath.Join(dir, "ping.png"))

	summary, err := os.ReadFile(filepath.Join(dir, "summary.txt"))
	assert.NilError(t, err)
	text := string(summary)
	assert.Assert(t, strings.Contains(text, "Results: 12"))
	// downloads are 90..101
	assert.Assert(t, strings.Contains(text, "  Average: 95.50 Mbps"))
	assert.Assert(t, strings.Contains(text, "  Max: 101.00 Mbps"))
	assert.Assert(t, strings.Contains(text, "Partial results: 1"))
	assert.Assert(t, strings.Contains(text, "(partial upload)"))
}

func TestGenerate_TwoResults(t *testing.T) {
	dir, err := newTestGenerator(results(2)).Generate(context.Background(), t.TempDir(), 0)
	assert.NilError(t, err)
	assertPNG(t, filepath.Join(dir, "speed.png"))
}

func TestGenerate_NotEnoughData(t *testing.T) {
	_, err := newTestGenerator(results(1)).Generate(context.Background(), t.TempDir(), 0)
	assert.Assert(t, errors.Is(err, ErrNotEnoughData))

	same := results(2)
	same[1].Timestamp = same[0].Timestamp
	_, err = newTestGenerator(same).Generate(context.Background(), t.TempDir(), 0)
	assert.Assert(t, errors.Is(err, ErrNotEnoughData))
}

func TestGenerate_StoreError(t *testing.T) {
	_, err := newTestGenerator(failingLister{}).Generate(context.Background(), t.TempDir(), 0)
	assert.ErrorContains(t, err, "database is locked")
}

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) {
	return 0, errors.New("no space left on device")
}

func TestWriteSummary_WriteError(t *testing.T) {
	err := newTestGenerator(nil).writeSummary(brokenWriter{}, results(3))
	assert.ErrorContains(t, err, "no space left on device")
}

func TestWriteSummary(t *testing.T) {
	buf := &bytes.Buffer{}
	assert.NilError(t, newTestGenerator(nil).writeSummary(buf, results(3)))
	assert.Assert(t, strings.HasPrefix(buf.String(), "Speed Test Report\n"))
	assert.Assert(t, strings.Contains(buf.String(), "Results: 3"))
}
