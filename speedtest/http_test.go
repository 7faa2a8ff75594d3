package speedtest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gotest.tools/v3/assert"

	"github.com/makotom/mbpsmeter/internal/history"
	"github.com/makotom/mbpsmeter/internal/server"
	"github.com/makotom/mbpsmeter/speedtest"
)

func newHTTPServer(t *testing.T, opts ...server.Option) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := server.New(opts...)
	assert.NilError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func httpConfiguration(baseURL string) speedtest.Configuration {
	c := speedtest.DefaultConfiguration()
	c.DownloadURL = baseURL + "/download?bytes=4000000"
	c.UploadURL = baseURL + "/upload"
	c.PingURL = baseURL + "/ping"
	c.ServerName = "loopback"
	c.ChunkSize = 256 * 1024
	c.UploadChunkCount = 4
	c.MinDuration = 0
	c.MaxDuration = 10 * time.Second
	c.SampleInterval = time.Millisecond
	return c
}

func newHTTPEngine(t *testing.T, c speedtest.Configuration) *speedtest.Engine {
	t.Helper()
	engine, err := speedtest.NewEngine(c, speedtest.NewHTTPTransport(c, &http.Client{}))
	assert.NilError(t, err)
	return engine
}

func TestHTTP_RunAgainstServer(t *testing.T) {
	ctx := context.Background()
	db, err := history.Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	assert.NilError(t, err)
	defer db.Close()

	ts := newHTTPServer(t)
	engine := newHTTPEngine(t, httpConfiguration(ts.URL))

	report, err := speedtest.NewOrchestrator(engine, speedtest.WithSink(db)).Run(ctx, nil)
	assert.NilError(t, err)

	assert.Assert(t, report.Latency.Millis > 0)
	assert.Equal(t, report.Download.Bytes, int64(4000000))
	assert.Equal(t, report.Download.Requests, 1)
	assert.Assert(t, report.Download.Mbps > 0)
	assert.Equal(t, report.Upload.Bytes, int64(4*256*1024))
	assert.Equal(t, report.Upload.Requests, 4)
	assert.Assert(t, report.Upload.Mbps > 0)
	assert.Assert(t, !report.Result.DownloadPartial && !report.Result.UploadPartial)

	saved, err := db.List(ctx, 10, history.NewestFirst)
	assert.NilError(t, err)
	assert.Equal(t, len(saved), 1)
	assert.Equal(t, saved[0].ID, report.Result.ID)
	assert.Equal(t, saved[0].Server, "loopback")
}

func TestHTTP_ConcurrentUpload(t *testing.T) {
	ts := newHTTPServer(t)
	c := httpConfiguration(ts.URL)
	c.UploadStrategy = speedtest.UploadConcurrent
	c.MaxConcurrentUploads = 2
	c.UploadChunkCount = 6

	result, err := newHTTPEngine(t, c).RunUpload(context.Background(), nil)
	assert.NilError(t, err)
	assert.Equal(t, result.Requests, 6)
	assert.Equal(t, result.Bytes, int64(6*256*1024))
}

func TestHTTP_PingFallsBackToHead(t *testing.T) {
	ts := newHTTPServer(t)
	c := httpConfiguration(ts.URL)
	c.PingURL = ""
	c.PingSamples = 3

	result, err := newHTTPEngine(t, c).Probe(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, result.Stats.NSamples, 3)
}

func TestHTTP_StatusErrors(t *testing.T) {
	ts := newHTTPServer(t)

	t.Run("download", func(t *testing.T) {
		c := httpConfiguration(ts.URL)
		c.DownloadURL = ts.URL + "/missing"
		_, err := newHTTPEngine(t, c).RunDownload(context.Background(), nil)
		assert.Assert(t, speedtest.IsNetwork(err), "got %v", err)
	})

	t.Run("download size out of range", func(t *testing.T) {
		c := httpConfiguration(ts.URL)
		c.DownloadURL = ts.URL + "/download?bytes=0"
		_, err := newHTTPEngine(t, c).RunDownload(context.Background(), nil)
		assert.Assert(t, speedtest.IsNetwork(err), "got %v", err)
	})

	t.Run("upload", func(t *testing.T) {
		c := httpConfiguration(ts.URL)
		c.UploadURL = ts.URL + "/missing"
		_, err := newHTTPEngine(t, c).RunUpload(context.Background(), nil)
		assert.Assert(t, speedtest.IsNetwork(err), "got %v", err)
	})

	t.Run("ping", func(t *testing.T) {
		c := httpConfiguration(ts.URL)
		c.PingURL = ts.URL + "/missing"
		_, err := newHTTPEngine(t, c).Probe(context.Background())
		assert.Assert(t, speedtest.IsNetwork(err), "got %v", err)
	})
}
