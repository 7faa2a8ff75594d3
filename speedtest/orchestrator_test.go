package speedtest

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
)

type recordingSink struct {
	mu      sync.Mutex
	results []*SpeedResult
	err     error
}

func (s *recordingSink) Save(ctx context.Context, result *SpeedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return s.err
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) observe(state State) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *stateRecorder) seen() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State{}, r.states...)
}

func healthyTransport() *fakeTransport {
	transport := &fakeTransport{clock: newFakeClock()}
	transport.download = transport.evenDownload(10_000_000, 100_000, 10*time.Millisecond, true)
	transport.upload = transport.drainUpload(5 * time.Millisecond)
	return transport
}

func TestOrchestrator_Completes(t *testing.T) {
	transport := healthyTransport()
	sink := &recordingSink{}
	recorder := &stateRecorder{}

	config := testConfiguration()
	config.ServerName = "test-server"
	orchestrator := NewOrchestrator(newTestEngine(config, transport), WithSink(sink), WithStateObserver(recorder.observe))

	report, err := orchestrator.Run(context.Background(), nil)

	assert.NilError(t, err)
	assert.DeepEqual(t, recorder.seen(), []State{StateIdle, StateProbing, StateDownloading, StateUploading, StateCompleted})
	assert.Equal(t, orchestrator.State(), StateCompleted)

	assert.Equal(t, len(sink.results), 1)
	result := sink.results[0]
	assert.Equal(t, result, report.Result)
	assert.Assert(t, result.ID != "")
	assert.Equal(t, result.Server, "test-server")
	assert.Equal(t, result.Timestamp.Location(), time.UTC)
	assertClose(t, result.Ping, 10)
	assertClose(t, result.Download, 80)
	assert.Equal(t, result.Upload, report.Upload.Mbps)
	assert.Assert(t, !result.DownloadPartial && !result.UploadPartial)
}

func TestOrchestrator_DownloadFailureSkipsUpload(t *testing.T) {
	transport := healthyTransport()
	transport.download = func(ctx context.Context) (io.ReadCloser, int64, error) {
		return nil, 0, errors.New("connection refused")
	}
	sink := &recordingSink{}
	recorder := &stateRecorder{}

	orchestrator := NewOrchestrator(newTestEngine(testConfiguration(), transport), WithSink(sink), WithStateObserver(recorder.observe))
	report, err := orchestrator.Run(context.Background(), nil)

	assert.Assert(t, report == nil)
	assert.Assert(t, IsNetwork(err))
	assert.DeepEqual(t, recorder.seen(), []State{StateIdle, StateProbing, StateDownloading, StateFailed})
	assert.Equal(t, int(transport.uploads.Load()), 0)
	assert.Equal(t, len(sink.results), 0)
}

func TestOrchestrator_PingFailureSkipsTransfers(t *testing.T) {
	transport := healthyTransport()
	transport.ping = func(ctx context.Context) error {
		return errors.New("no route to host")
	}

	orchestrator := NewOrchestrator(newTestEngine(testConfiguration(), transport))
	_, err := orchestrator.Run(context.Background(), nil)

	assert.Assert(t, IsNetwork(err))
	assert.Equal(t, orchestrator.State(), StateFailed)
	assert.Equal(t, int(transport.downloads.Load()), 0)
	assert.Equal(t, int(transport.uploads.Load()), 0)
}

func TestOrchestrator_Cancelled(t *testing.T) {
	transport := healthyTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transport.download = func(dlCtx context.Context) (io.ReadCloser, int64, error) {
		cancel()
		<-dlCtx.Done()
		return nil, 0, dlCtx.Err()
	}
	sink := &recordingSink{}

	orchestrator := NewOrchestrator(newTestEngine(testConfiguration(), transport), WithSink(sink))
	_, err := orchestrator.Run(ctx, nil)

	assert.Assert(t, IsCancelled(err), "unexpected error: %v", err)
	assert.Equal(t, orchestrator.State(), StateCancelled)
	assert.Equal(t, len(sink.results), 0)
}

func TestOrchestrator_CancelledWithPartialDownload(t *testing.T) {
	transport := healthyTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transport.download = func(dlCtx context.Context) (io.ReadCloser, int64, error) {
		return &pacedReader{
			ctx:        dlCtx,
			clock:      transport.clock,
			remaining:  10_000_000,
			chunk:      100_000,
			step:       10 * time.Millisecond,
			stallAfter: 30,
		}, 10_000_000, nil
	}

	orchestrator := NewOrchestrator(newTestEngine(testConfiguration(), transport))
	_, err := orchestrator.Run(ctx, func(p Progress) {
		if p.CumulativeBytes >= 3_000_000 {
			cancel()
		}
	})

	assert.Assert(t, IsCancelled(err), "unexpected error: %v", err)
	assert.Equal(t, orchestrator.State(), StateCancelled)
	assert.Equal(t, int(transport.uploads.Load()), 0)
}

func TestOrchestrator_PhaseTimeoutContinues(t *testing.T) {
	transport := healthyTransport()
	transport.download = func(dlCtx context.Context) (io.ReadCloser, int64, error) {
		return &pacedReader{
			ctx:        dlCtx,
			clock:      transport.clock,
			remaining:  100_000_000,
			chunk:      100_000,
			step:       10 * time.Millisecond,
			stallAfter: 40,
		}, 100_000_000, nil
	}
	sink := &recordingSink{}
	recorder := &stateRecorder{}

	config := testConfiguration()
	config.MaxDuration = 100 * time.Millisecond
	orchestrator := NewOrchestrator(newTestEngine(config, transport), WithSink(sink), WithStateObserver(recorder.observe))

	report, err := orchestrator.Run(context.Background(), nil)

	assert.NilError(t, err)
	assert.DeepEqual(t, recorder.seen(), []State{StateIdle, StateProbing, StateDownloading, StateUploading, StateCompleted})
	assert.Equal(t, orchestrator.State(), StateCompleted)
	assert.Equal(t, int(transport.uploads.Load()), 10)
	assert.Assert(t, report.Result.DownloadPartial)
	assert.Assert(t, !report.Result.UploadPartial)
	assertClose(t, report.Result.Download, 80)
	assert.Equal(t, len(sink.results), 1)
	assert.Equal(t, sink.results[0], report.Result)
}

func TestOrchestrator_Busy(t *testing.T) {
	transport := healthyTransport()
	release := make(chan struct{})
	download := transport.download
	transport.download = func(ctx context.Context) (io.ReadCloser, int64, error) {
		<-release
		return download(ctx)
	}

	downloading := make(chan struct{})
	var once sync.Once
	orchestrator := NewOrchestrator(newTestEngine(testConfiguration(), transport), WithStateObserver(func(state State) {
		if state == StateDownloading {
			once.Do(func() { close(downloading) })
		}
	}))

	done := make(chan error, 1)
	go func() {
		_, err := orchestrator.Run(context.Background(), nil)
		done <- err
	}()

	<-downloading
	_, err := orchestrator.Run(context.Background(), nil)
	assert.Assert(t, errors.Is(err, ErrBusy))

	close(release)
	assert.NilError(t, <-done)

	// the orchestrator is reusable once the first test has finished
	_, err = orchestrator.Run(context.Background(), nil)
	assert.NilError(t, err)
}

func TestOrchestrator_SinkFailureDoesNotFailTest(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}

	orchestrator := NewOrchestrator(newTestEngine(testConfiguration(), healthyTransport()), WithSink(sink))
	report, err := orchestrator.Run(context.Background(), nil)

	assert.NilError(t, err)
	assert.Assert(t, report.Result != nil)
	assert.Equal(t, len(sink.results), 1)
	assert.Equal(t, orchestrator.State(), StateCompleted)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, StateUploading.String(), "uploading")
	assert.Assert(t, StateCancelled.Terminal())
	assert.Assert(t, !StateDownloading.Terminal())
}
