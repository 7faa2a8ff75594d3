package speedtest

import (
	"bytes"
	"context"
	"crypto/rand"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// newPayload returns size bytes of uniformly random, incompressible data.
func newPayload(size int) ([]byte, error) {
	payload := make([]byte, size)
	if _, err := rand.Read(payload); err != nil {
		return nil, errors.Wrap(err, "could not generate upload payload")
	}
	return payload, nil
}

func (e *Engine) shouldIssue(ctx context.Context, run *transferRun, issued int) bool {
	if ctx.Err() != nil {
		return false
	}
	if e.config.UploadChunkCount > 0 {
		return issued < e.config.UploadChunkCount
	}
	return run.elapsed() < e.config.MinDuration
}

func (e *Engine) uploadChunk(ctx context.Context, run *transferRun, payload []byte) error {
	body := &samplingReader{r: bytes.NewReader(payload), run: run}
	if err := e.transport.Upload(ctx, body, int64(len(payload))); err != nil {
		return err
	}
	run.completeRequest()
	return nil
}

func (e *Engine) uploadSequential(ctx context.Context, run *transferRun, payload []byte) error {
	for issued := 0; e.shouldIssue(ctx, run, issued); issued++ {
		if err := e.uploadChunk(ctx, run, payload); err != nil {
			return err
		}
	}
	return nil
}

// uploadConcurrent keeps at most MaxConcurrentUploads requests in flight. A slot is
// taken before a request is issued and given back once its goroutine is done with it.
// The first failure cancels the others. All in-flight requests are awaited before
// returning.
func (e *Engine) uploadConcurrent(ctx context.Context, run *transferRun, payload []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	window := semaphore.NewWeighted(int64(e.config.MaxConcurrentUploads))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for issued := 0; e.shouldIssue(ctx, run, issued); issued++ {
		if err := window.Acquire(ctx, 1); err != nil {
			break
		}
		// waiting for a slot may have used up the remaining duration
		if !e.shouldIssue(ctx, run, issued) {
			window.Release(1)
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer window.Release(1)

			if err := e.uploadChunk(ctx, run, payload); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// RunUpload measures the upload speed with the configured strategy. Like RunDownload,
// an expired or cancelled phase yields a partial result when samples exist.
func (e *Engine) RunUpload(ctx context.Context, onProgress ProgressFunc) (*TransferResult, error) {
	payload, err := newPayload(e.config.ChunkSize)
	if err != nil {
		return nil, newError(KindNetwork, PhaseUpload, err)
	}

	phaseCtx, cancel := context.WithTimeout(ctx, e.config.MaxDuration)
	defer cancel()

	run := e.newTransferRun(DirectionUpload, onProgress)
	if e.config.UploadChunkCount > 0 {
		run.expect(int64(e.config.UploadChunkCount) * int64(len(payload)))
	}

	switch e.config.UploadStrategy {
	case UploadConcurrent:
		err = e.uploadConcurrent(phaseCtx, run, payload)
	default:
		err = e.uploadSequential(phaseCtx, run, payload)
	}

	if phaseCtx.Err() != nil {
		return e.finishInterrupted(PhaseUpload, phaseCtx.Err(), run)
	}
	if err != nil {
		observePhase(PhaseUpload, KindNetwork.String())
		return nil, newError(KindNetwork, PhaseUpload, errors.Wrap(err, "upload failed"))
	}
	if run.totalBytes() == 0 {
		observePhase(PhaseUpload, KindNetwork.String())
		return nil, newError(KindNetwork, PhaseUpload, ErrNoData)
	}

	result := run.finish(false, e.config.OutlierTrimCount)
	observeTransfer(PhaseUpload, result)
	e.logger.Info("upload finished",
		zap.String("strategy", string(e.config.UploadStrategy)),
		zap.Float64("mbps", result.Mbps),
		zap.Int64("bytes", result.Bytes),
		zap.Int("requests", result.Requests),
		zap.Duration("elapsed", result.Elapsed),
		zap.Int("samples", result.NSamples),
	)
	return result, nil
}
