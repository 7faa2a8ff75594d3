package speedtest

import (
	"net/url"
	"time"
)

type UploadStrategy string

const (
	UploadSequential UploadStrategy = "sequential"
	UploadConcurrent UploadStrategy = "concurrent"
)

const (
	defaultChunkSize            = 1024 * 1024 // 1 MiB
	defaultMaxConcurrentUploads = 4
	defaultMinDuration          = 10 * time.Second
	defaultMaxDuration          = 15 * time.Second
	defaultPingTimeout          = 5 * time.Second
	defaultSampleInterval       = 250 * time.Millisecond
	defaultOutlierTrimCount     = 1
)

// Configuration is copied into an Engine on construction, so a running test never
// observes later changes to the caller's value.
type Configuration struct {
	DownloadURL string
	UploadURL   string
	// Optional; the download URL is probed with HEAD when empty.
	PingURL    string
	ServerName string

	// Upload buffer size, and the read buffer size for downloads.
	ChunkSize            int
	UploadStrategy       UploadStrategy
	MaxConcurrentUploads int
	// Number of upload requests to issue; 0 bounds the upload by MinDuration instead.
	UploadChunkCount int

	// Transfers keep going at least this long: downloads re-request the payload when a
	// stream ends early, uploads keep issuing requests.
	MinDuration time.Duration
	// Hard per-phase budget. Exceeding it cancels the phase.
	MaxDuration time.Duration

	PingTimeout time.Duration
	PingSamples int

	SampleInterval   time.Duration
	OutlierTrimCount int
}

func DefaultConfiguration() Configuration {
	return Configuration{
		ChunkSize:            defaultChunkSize,
		UploadStrategy:       UploadSequential,
		MaxConcurrentUploads: defaultMaxConcurrentUploads,
		MinDuration:          defaultMinDuration,
		MaxDuration:          defaultMaxDuration,
		PingTimeout:          defaultPingTimeout,
		PingSamples:          1,
		SampleInterval:       defaultSampleInterval,
		OutlierTrimCount:     defaultOutlierTrimCount,
	}
}

func validateEndpoint(name, raw string, required bool) error {
	if raw == "" {
		if required {
			return ConfigErrorf("%s endpoint is not configured", name)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ConfigErrorf("%s endpoint %q is not a valid URL: %v", name, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ConfigErrorf("%s endpoint %q must be an absolute http(s) URL", name, raw)
	}
	return nil
}

// Validate returns a KindConfig error describing the first invalid setting.
func (c *Configuration) Validate() error {
	if err := validateEndpoint("download", c.DownloadURL, true); err != nil {
		return err
	}
	if err := validateEndpoint("upload", c.UploadURL, true); err != nil {
		return err
	}
	if err := validateEndpoint("ping", c.PingURL, false); err != nil {
		return err
	}
	if c.ChunkSize <= 0 {
		return ConfigErrorf("chunk size must be positive")
	}
	switch c.UploadStrategy {
	case UploadSequential:
	case UploadConcurrent:
		if c.MaxConcurrentUploads < 1 {
			return ConfigErrorf("concurrent uploads need a window of at least 1 request")
		}
	default:
		return ConfigErrorf("unknown upload strategy %q", c.UploadStrategy)
	}
	if c.UploadChunkCount < 0 {
		return ConfigErrorf("upload chunk count must not be negative")
	}
	if c.MinDuration < 0 {
		return ConfigErrorf("minimum duration must not be negative")
	}
	if c.MaxDuration <= 0 {
		return ConfigErrorf("maximum duration must be positive")
	}
	if c.MinDuration > c.MaxDuration {
		return ConfigErrorf("minimum duration %v exceeds maximum duration %v", c.MinDuration, c.MaxDuration)
	}
	if c.UploadChunkCount == 0 && c.MinDuration == 0 {
		return ConfigErrorf("upload needs either a chunk count or a minimum duration")
	}
	if c.PingTimeout <= 0 {
		return ConfigErrorf("ping timeout must be positive")
	}
	if c.PingSamples < 1 {
		return ConfigErrorf("at least one ping sample is required")
	}
	if c.SampleInterval <= 0 {
		return ConfigErrorf("sample interval must be positive")
	}
	if c.OutlierTrimCount < 1 {
		return ConfigErrorf("outlier trim count must be at least 1")
	}
	return nil
}
