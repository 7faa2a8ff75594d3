package speedtest

import (
	"time"
)

type Direction string

const (
	DirectionDownload Direction = "download"
	DirectionUpload   Direction = "upload"
)

// Sample is a single throughput observation taken during a transfer. Mbps is
// computed against the previous sample of the same run, not against the start.
type Sample struct {
	Timestamp       time.Time
	CumulativeBytes int64
	Mbps            float64
}

// Progress is handed to a ProgressFunc every time a sample is recorded.
type Progress struct {
	Direction       Direction
	Mbps            float64
	CumulativeBytes int64
	Elapsed         time.Duration
	Percent         float64 // -1 when the total size is unknown
}

// ProgressFunc must return quickly; it is called while the transfer is being sampled.
type ProgressFunc func(Progress)

type Stats struct {
	NSamples int
	Mean     float64
	StdDev   float64
	StdErr   float64
	Min      float64
	MinIndex int
	Max      float64
	MaxIndex int
	Deciles  []float64
}

type TransferResult struct {
	Direction Direction
	Mbps      float64
	Bytes     int64
	Elapsed   time.Duration
	NSamples  int
	Requests  int
	Partial   bool
	Stats     *Stats
}

type LatencyResult struct {
	Millis float64
	Stats  *Stats
}

// SpeedResult is the record handed to the persistence sink once a test completes.
type SpeedResult struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Server          string    `json:"server,omitempty"`
	ClientIP        string    `json:"ip,omitempty"`
	Ping            float64   `json:"ping"`
	Download        float64   `json:"download"`
	Upload          float64   `json:"upload"`
	DownloadPartial bool      `json:"download_partial,omitempty"`
	UploadPartial   bool      `json:"upload_partial,omitempty"`
}

// Report bundles the SpeedResult with the per-phase details it was built from.
type Report struct {
	Result   *SpeedResult
	Latency  *LatencyResult
	Download *TransferResult
	Upload   *TransferResult
}
