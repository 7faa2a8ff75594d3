package speedtest

import (
	"time"

	"go.uber.org/zap"
)

// Engine runs the individual measurement phases against a Transport.
type Engine struct {
	config    Configuration
	transport Transport
	logger    *zap.Logger
	now       func() time.Time
}

type EngineOption func(*Engine)

func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock replaces time.Now for sample timestamps and elapsed times.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine validates config and takes a private copy of it.
func NewEngine(config Configuration, transport Transport, opts ...EngineOption) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ConfigErrorf("no transport configured")
	}

	e := &Engine{
		config:    config,
		transport: transport,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Configuration returns a copy of the configuration the engine runs with.
func (e *Engine) Configuration() Configuration {
	return e.config
}

func (e *Engine) newTransferRun(direction Direction, onProgress ProgressFunc) *transferRun {
	return newTransferRun(direction, e.config.SampleInterval, e.now, onProgress)
}

// finishInterrupted turns a timed-out or cancelled run into a partial result, or into
// an error when not a single sample was taken.
func (e *Engine) finishInterrupted(phase Phase, ctxErr error, run *transferRun) (*TransferResult, error) {
	if run.sampleCount() == 0 {
		err := interruptionError(phase, ctxErr)
		observePhase(phase, err.Kind.String())
		return nil, err
	}

	result := run.finish(true, e.config.OutlierTrimCount)
	e.logger.Warn("transfer interrupted, reporting partial result",
		zap.String("phase", string(phase)),
		zap.Error(ctxErr),
		zap.Int64("bytes", result.Bytes),
		zap.Int("samples", result.NSamples),
		zap.Float64("mbps", result.Mbps),
	)
	observeTransfer(phase, result)
	return result, nil
}
