package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/makotom/mbpsmeter/speedtest"
)

// testFileInfo reports the size and type of the configured download URL.
func (s *Server) testFileInfo(c *gin.Context) {
	if s.info.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no download URL configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), fileInfoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.info.URL, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("could not reach download URL", zap.String("url", s.info.URL), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		c.JSON(http.StatusBadGateway, gin.H{"error": "download URL answered " + resp.Status})
		return
	}

	var size *int64
	if resp.ContentLength >= 0 {
		size = &resp.ContentLength
	}
	c.JSON(http.StatusOK, gin.H{
		"size":        size,
		"contentType": resp.Header.Get("Content-Type"),
		"url":         s.info.URL,
	})
}

func upstreamErrorStatus(err error) int {
	kind, ok := speedtest.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case speedtest.KindNetwork:
		return http.StatusBadGateway
	case speedtest.KindTimeout:
		return http.StatusGatewayTimeout
	case speedtest.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) upstreamFailed(c *gin.Context, err error) {
	kind := "unknown"
	if k, ok := speedtest.KindOf(err); ok {
		kind = k.String()
	}
	s.logger.Warn("upstream speed test failed", zap.String("url", s.info.URL), zap.Error(err))
	c.JSON(upstreamErrorStatus(err), gin.H{"success": false, "error": err.Error(), "type": kind})
}

// runUpstreamTest measures latency and download speed from this server to the
// configured download URL. Upload is not measured.
func (s *Server) runUpstreamTest(c *gin.Context) {
	if s.info.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no download URL configured", "type": speedtest.KindConfig.String()})
		return
	}
	if !s.upstream.TryAcquire(1) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": speedtest.ErrBusy.Error()})
		return
	}
	defer s.upstream.Release(1)

	testConfig := s.upstreamTest
	testConfig.DownloadURL = s.info.URL
	testConfig.UploadURL = requestBaseURL(c) + "/upload"
	testConfig.PingURL = ""
	testConfig.ServerName = s.info.Name

	engine, err := speedtest.NewEngine(testConfig, speedtest.NewHTTPTransport(testConfig, s.client),
		speedtest.WithLogger(s.logger.With(zap.String("upstream", s.info.URL))))
	if err != nil {
		s.upstreamFailed(c, err)
		return
	}

	ctx := c.Request.Context()
	latency, err := engine.Probe(ctx)
	if err != nil {
		s.upstreamFailed(c, err)
		return
	}
	download, err := engine.RunDownload(ctx, nil)
	if err != nil {
		s.upstreamFailed(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"server":           s.info.Name,
		"ping":             latency.Millis,
		"download":         download.Mbps,
		"download_bytes":   download.Bytes,
		"download_time":    download.Elapsed.Seconds(),
		"download_partial": download.Partial,
	})
}
