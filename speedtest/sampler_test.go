package speedtest

import (
	"bytes"
	"io"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestSampleCollector_RateLimited(t *testing.T) {
	clock := newFakeClock()
	collector := newSampleCollector(100*time.Millisecond, clock.Now())

	clock.Advance(50 * time.Millisecond)
	_, ok := collector.record(500_000, clock.Now())
	assert.Assert(t, !ok)

	clock.Advance(50 * time.Millisecond)
	sample, ok := collector.record(1_000_000, clock.Now())
	assert.Assert(t, ok)
	assertClose(t, sample.Mbps, 80)
	assert.Equal(t, sample.CumulativeBytes, int64(1_000_000))

	clock.Advance(200 * time.Millisecond)
	sample, ok = collector.record(2_000_000, clock.Now())
	assert.Assert(t, ok)
	// relative to the previous sample, not to the start
	assertClose(t, sample.Mbps, 40)

	assert.Equal(t, len(collector.samples), 2)
}

func TestTransferRun_Progress(t *testing.T) {
	clock := newFakeClock()
	progress := []Progress{}
	run := newTransferRun(DirectionDownload, 100*time.Millisecond, clock.Now, func(p Progress) {
		progress = append(progress, p)
	})
	run.expect(4_000_000)

	for i := 0; i < 4; i++ {
		clock.Advance(100 * time.Millisecond)
		run.add(1_000_000)
	}

	assert.Equal(t, len(progress), 4)
	assert.Equal(t, progress[0].Direction, DirectionDownload)
	assertClose(t, progress[0].Percent, 25)
	assertClose(t, progress[3].Percent, 100)
	assert.Equal(t, progress[3].Elapsed, 400*time.Millisecond)
	assert.Equal(t, progress[3].CumulativeBytes, int64(4_000_000))
}

func TestTransferRun_UnknownSize(t *testing.T) {
	clock := newFakeClock()
	var last Progress
	run := newTransferRun(DirectionDownload, 10*time.Millisecond, clock.Now, func(p Progress) {
		last = p
	})
	run.expect(-1)

	clock.Advance(10 * time.Millisecond)
	run.add(100)

	assert.Equal(t, last.Percent, float64(-1))
}

func TestTransferRun_FinishReleasesSamples(t *testing.T) {
	clock := newFakeClock()
	run := newTransferRun(DirectionUpload, 100*time.Millisecond, clock.Now, nil)

	for _, size := range []int{100_000, 1_000_000, 1_000_000, 1_000_000, 5_000_000} {
		clock.Advance(100 * time.Millisecond)
		run.add(size)
	}
	run.completeRequest()

	result := run.finish(false, 1)

	assert.Equal(t, result.Direction, DirectionUpload)
	assert.Equal(t, result.NSamples, 5)
	assert.Equal(t, result.Requests, 1)
	assert.Equal(t, result.Bytes, int64(8_100_000))
	assert.Equal(t, result.Elapsed, 500*time.Millisecond)
	// 8 and 400 are trimmed
	assertClose(t, result.Mbps, 80)
	assert.Equal(t, result.Stats.NSamples, 5)
	assert.Equal(t, run.sampleCount(), 0)
}

func TestSamplingReader_CountsBytes(t *testing.T) {
	clock := newFakeClock()
	run := newTransferRun(DirectionUpload, time.Millisecond, clock.Now, nil)
	payload := bytes.Repeat([]byte{0xa5}, 10_000)

	reader := &samplingReader{r: bytes.NewReader(payload), run: run}
	copied, err := io.Copy(io.Discard, reader)

	assert.NilError(t, err)
	assert.Equal(t, copied, int64(10_000))
	assert.Equal(t, run.totalBytes(), int64(10_000))
}

func TestMbps(t *testing.T) {
	assertClose(t, mbps(10_000_000, time.Second), 80)
	assertClose(t, mbps(125_000, 0), 1000)
}
