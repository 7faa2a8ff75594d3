package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/makotom/mbpsmeter/internal/history"
	"github.com/makotom/mbpsmeter/speedtest"
)

const maxDownloadBytes = 1 << 30

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
}

// writePayload writes up to size bytes of the random payload, or streams it until
// deadline when size is negative. It stops early once the client goes away.
func (s *Server) writePayload(c *gin.Context, size int64) int64 {
	ctx := c.Request.Context()
	deadline := s.now().Add(s.streamDuration)
	sent := int64(0)

	for ctx.Err() == nil {
		chunk := s.payload
		if size >= 0 {
			if sent >= size {
				break
			}
			if remaining := size - sent; remaining < int64(len(chunk)) {
				chunk = chunk[:remaining]
			}
		} else if !s.now().Before(deadline) {
			break
		}

		n, err := c.Writer.Write(chunk)
		sent += int64(n)
		if err != nil {
			break
		}
		if size < 0 {
			c.Writer.Flush()
		}
	}

	BytesTransferred.WithLabelValues("sent").Add(float64(sent))
	return sent
}

// download serves ?bytes=N bytes with a Content-Length, or streams for the configured
// duration without one.
func (s *Server) download(c *gin.Context) {
	noStore(c)
	c.Header("Content-Type", "application/octet-stream")

	size := int64(-1)
	if raw := c.Query("bytes"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 || parsed > maxDownloadBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bytes must be between 1 and " + strconv.Itoa(maxDownloadBytes)})
			return
		}
		size = parsed
		c.Header("Content-Length", strconv.FormatInt(size, 10))
	}

	c.Status(http.StatusOK)
	sent := s.writePayload(c, size)
	s.logger.Debug("download served", zap.Int64("bytes", sent), zap.Int64("requested", size))
}

func (s *Server) downloadHead(c *gin.Context) {
	noStore(c)
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
}

func (s *Server) upload(c *gin.Context) {
	noStore(c)
	received, err := io.Copy(io.Discard, c.Request.Body)
	BytesTransferred.WithLabelValues("received").Add(float64(received))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "bytes_received": received})
}

func (s *Server) uploadOptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func (s *Server) ping(c *gin.Context) {
	noStore(c)
	c.String(http.StatusOK, "pong")
}

func requestBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}

func (s *Server) getConfig(c *gin.Context) {
	info := s.info
	base := requestBaseURL(c)

	if info.Name == "" {
		info.Name = "mbpsmeter"
	}
	if info.URL == "" {
		info.URL = base + "/download"
	}
	if info.UploadURL == "" {
		info.UploadURL = base + "/upload"
	}
	if info.PingURL == "" {
		info.PingURL = base + "/ping"
	}

	c.JSON(http.StatusOK, info)
}

func (s *Server) listHistory(c *gin.Context) {
	limit := s.historyLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}
	order, err := history.ParseOrder(c.Query("order"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := s.store.List(c.Request.Context(), limit, order)
	if err != nil {
		s.logger.Error("could not list history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, results)
}

// saveHistory stamps the result with the server's clock and the caller's address.
func (s *Server) saveHistory(c *gin.Context) {
	result := &speedtest.SpeedResult{}
	if err := c.ShouldBindJSON(result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	result.Timestamp = s.now().UTC()
	result.ClientIP = c.ClientIP()

	if err := s.store.Save(c.Request.Context(), result); err != nil {
		s.logger.Error("could not save history", zap.String("id", result.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "could not save result"})
		return
	}
	HistoryRecords.Inc()

	c.JSON(http.StatusOK, gin.H{"status": "success", "id": result.ID})
}
