package speedtest

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// downloadOnce streams one payload into run and returns the number of bytes read.
func (e *Engine) downloadOnce(ctx context.Context, run *transferRun, buf []byte) (int64, error) {
	body, size, err := e.transport.Download(ctx)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	run.expect(size)

	read := int64(0)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			read += int64(n)
			run.add(n)
		}
		if err == io.EOF {
			return read, nil
		}
		if err != nil {
			return read, err
		}
	}
}

// RunDownload measures the download speed. Streams that end before MinDuration are
// requested again. When MaxDuration passes or ctx is cancelled the samples collected so
// far are aggregated into a partial result.
func (e *Engine) RunDownload(ctx context.Context, onProgress ProgressFunc) (*TransferResult, error) {
	phaseCtx, cancel := context.WithTimeout(ctx, e.config.MaxDuration)
	defer cancel()

	run := e.newTransferRun(DirectionDownload, onProgress)
	buf := make([]byte, e.config.ChunkSize)

	for {
		read, err := e.downloadOnce(phaseCtx, run, buf)
		if phaseCtx.Err() != nil {
			return e.finishInterrupted(PhaseDownload, phaseCtx.Err(), run)
		}
		if err != nil {
			observePhase(PhaseDownload, KindNetwork.String())
			return nil, newError(KindNetwork, PhaseDownload, errors.Wrap(err, "download failed"))
		}
		run.completeRequest()
		if read == 0 {
			observePhase(PhaseDownload, KindNetwork.String())
			return nil, newError(KindNetwork, PhaseDownload, ErrNoData)
		}

		if run.elapsed() >= e.config.MinDuration {
			break
		}
		e.logger.Debug("download stream ended early, requesting again",
			zap.Duration("elapsed", run.elapsed()),
			zap.Int64("bytes", run.totalBytes()),
		)
	}

	result := run.finish(false, e.config.OutlierTrimCount)
	observeTransfer(PhaseDownload, result)
	e.logger.Info("download finished",
		zap.Float64("mbps", result.Mbps),
		zap.Int64("bytes", result.Bytes),
		zap.Duration("elapsed", result.Elapsed),
		zap.Int("samples", result.NSamples),
	)
	return result, nil
}
