package speedtest

import (
	"io"
	"sync"
	"time"
)

const minElapsed = time.Millisecond

func mbps(bytes int64, elapsed time.Duration) float64 {
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	return float64(8*bytes) / float64(elapsed.Microseconds())
}

// sampleCollector rate-limits samples to at most one per interval, regardless of how
// often the transfer reports progress.
type sampleCollector struct {
	interval  time.Duration
	lastTime  time.Time
	lastBytes int64
	samples   []Sample
}

func newSampleCollector(interval time.Duration, start time.Time) *sampleCollector {
	return &sampleCollector{
		interval: interval,
		lastTime: start,
		samples:  []Sample{},
	}
}

func (c *sampleCollector) record(cumulativeBytes int64, now time.Time) (Sample, bool) {
	elapsed := now.Sub(c.lastTime)
	if elapsed < c.interval {
		return Sample{}, false
	}

	sample := Sample{
		Timestamp:       now,
		CumulativeBytes: cumulativeBytes,
		Mbps:            mbps(cumulativeBytes-c.lastBytes, elapsed),
	}
	c.samples = append(c.samples, sample)
	c.lastTime = now
	c.lastBytes = cumulativeBytes

	return sample, true
}

// transferRun is the state of one download or upload. Upload bodies are consumed by
// transport goroutines, so every access goes through mu.
type transferRun struct {
	mu         sync.Mutex
	direction  Direction
	start      time.Time
	target     int64
	bytes      int64
	requests   int
	collector  *sampleCollector
	onProgress ProgressFunc
	now        func() time.Time
}

func newTransferRun(direction Direction, interval time.Duration, now func() time.Time, onProgress ProgressFunc) *transferRun {
	start := now()
	return &transferRun{
		direction:  direction,
		start:      start,
		target:     -1,
		collector:  newSampleCollector(interval, start),
		onProgress: onProgress,
		now:        now,
	}
}

func (r *transferRun) add(n int) {
	if n <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.bytes += int64(n)
	now := r.now()
	sample, ok := r.collector.record(r.bytes, now)
	if !ok || r.onProgress == nil {
		return
	}

	percent := float64(-1)
	if r.target > 0 {
		percent = 100 * float64(r.bytes) / float64(r.target)
		if percent > 100 {
			percent = 100
		}
	}
	r.onProgress(Progress{
		Direction:       r.direction,
		Mbps:            sample.Mbps,
		CumulativeBytes: r.bytes,
		Elapsed:         now.Sub(r.start),
		Percent:         percent,
	})
}

// expect extends the known target by size bytes; a negative size makes it unknown.
func (r *transferRun) expect(size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if size < 0 {
		r.target = -1
		return
	}
	if r.target < 0 {
		r.target = r.bytes
	}
	r.target += size
}

func (r *transferRun) completeRequest() {
	r.mu.Lock()
	r.requests++
	r.mu.Unlock()
}

func (r *transferRun) elapsed() time.Duration {
	return r.now().Sub(r.start)
}

func (r *transferRun) sampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.collector.samples)
}

func (r *transferRun) totalBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// finish reduces the run into a TransferResult and releases the samples.
func (r *transferRun) finish(partial bool, trim int) *TransferResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := r.now().Sub(r.start)
	samples := r.collector.samples
	r.collector.samples = nil

	speeds := make([]float64, 0, len(samples))
	for _, sample := range samples {
		speeds = append(speeds, sample.Mbps)
	}

	return &TransferResult{
		Direction: r.direction,
		Mbps:      reduceTrimmed(samples, r.bytes, elapsed, trim),
		Bytes:     r.bytes,
		Elapsed:   elapsed,
		NSamples:  len(samples),
		Requests:  r.requests,
		Partial:   partial,
		Stats:     getF64Stats(speeds),
	}
}

// samplingReader counts bytes as the transport pulls them out of a request body.
type samplingReader struct {
	r   io.Reader
	run *transferRun
}

func (s *samplingReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.run.add(n)
	return n, err
}
