package speedtest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// pacedReader hands out at most chunk bytes per Read and advances the clock by step
// before each one. With stallAfter > 0 it blocks until ctx is done after that many reads.
type pacedReader struct {
	ctx        context.Context
	clock      *fakeClock
	remaining  int64
	chunk      int
	step       time.Duration
	stallAfter int
	reads      int
}

func (r *pacedReader) Read(p []byte) (int, error) {
	if r.stallAfter > 0 && r.reads >= r.stallAfter {
		<-r.ctx.Done()
		return 0, r.ctx.Err()
	}
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if r.remaining == 0 {
		return 0, io.EOF
	}

	n := len(p)
	if n > r.chunk {
		n = r.chunk
	}
	if int64(n) > r.remaining {
		n = int(r.remaining)
	}
	r.clock.Advance(r.step)
	r.remaining -= int64(n)
	r.reads++
	return n, nil
}

func (r *pacedReader) Close() error {
	return nil
}

type fakeTransport struct {
	clock    *fakeClock
	ping     func(ctx context.Context) error
	download func(ctx context.Context) (io.ReadCloser, int64, error)
	upload   func(ctx context.Context, body io.Reader, size int64) error

	pings     atomic.Int32
	downloads atomic.Int32
	uploads   atomic.Int32
}

func (f *fakeTransport) Ping(ctx context.Context) error {
	f.pings.Add(1)
	if f.ping == nil {
		f.clock.Advance(10 * time.Millisecond)
		return nil
	}
	return f.ping(ctx)
}

func (f *fakeTransport) Download(ctx context.Context) (io.ReadCloser, int64, error) {
	f.downloads.Add(1)
	return f.download(ctx)
}

func (f *fakeTransport) Upload(ctx context.Context, body io.Reader, size int64) error {
	f.uploads.Add(1)
	return f.upload(ctx, body, size)
}

// evenDownload serves size bytes in chunk-sized reads, step apart on the fake clock.
func (f *fakeTransport) evenDownload(size int64, chunk int, step time.Duration, advertise bool) func(ctx context.Context) (io.ReadCloser, int64, error) {
	return func(ctx context.Context) (io.ReadCloser, int64, error) {
		length := int64(-1)
		if advertise {
			length = size
		}
		return &pacedReader{ctx: ctx, clock: f.clock, remaining: size, chunk: chunk, step: step}, length, nil
	}
}

// drainUpload consumes body in 64 KiB reads, advancing the clock by step before each.
func (f *fakeTransport) drainUpload(step time.Duration) func(ctx context.Context, body io.Reader, size int64) error {
	return func(ctx context.Context, body io.Reader, size int64) error {
		buf := make([]byte, 64*1024)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			f.clock.Advance(step)
			_, err := body.Read(buf)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

func testConfiguration() Configuration {
	config := DefaultConfiguration()
	config.DownloadURL = "http://speed.example.net/download"
	config.UploadURL = "http://speed.example.net/upload"
	config.ChunkSize = 1024 * 1024
	config.MinDuration = 0
	config.MaxDuration = 5 * time.Second
	config.UploadChunkCount = 10
	config.SampleInterval = 100 * time.Millisecond
	return config
}

func newTestEngine(config Configuration, transport *fakeTransport) *Engine {
	engine, err := NewEngine(config, transport, WithClock(transport.clock.Now))
	if err != nil {
		panic(err)
	}
	return engine
}
