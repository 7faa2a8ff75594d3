package speedtest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type State int

const (
	StateIdle State = iota
	StateProbing
	StateDownloading
	StateUploading
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateDownloading:
		return "downloading"
	case StateUploading:
		return "uploading"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Sink receives every completed SpeedResult.
type Sink interface {
	Save(ctx context.Context, result *SpeedResult) error
}

// Orchestrator runs ping, download and upload one after the other. Only one test may
// run at a time; a second concurrent Run fails with ErrBusy.
type Orchestrator struct {
	engine  *Engine
	sink    Sink
	logger  *zap.Logger
	observe func(State)

	busy  atomic.Bool
	mu    sync.Mutex
	state State
}

type OrchestratorOption func(*Orchestrator)

func WithSink(sink Sink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithStateObserver registers a callback invoked on every state transition.
func WithStateObserver(observe func(State)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.observe = observe
	}
}

func NewOrchestrator(engine *Engine, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		engine: engine,
		logger: engine.logger,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	o.logger.Debug("state transition", zap.Stringer("from", from), zap.Stringer("to", to))
	if o.observe != nil {
		o.observe(to)
	}
}

// fail moves to Failed, or to Cancelled when the caller's context was cancelled.
func (o *Orchestrator) fail(ctx context.Context, err error) error {
	if IsCancelled(err) || ctx.Err() != nil {
		o.transition(StateCancelled)
	} else {
		o.transition(StateFailed)
	}
	o.logger.Error("speed test aborted", zap.Error(err))
	return err
}

// checkCancelled turns a partial result caused by caller cancellation into a
// cancellation of the whole test.
func (o *Orchestrator) checkCancelled(ctx context.Context, phase Phase) error {
	if ctx.Err() == nil {
		return nil
	}
	return interruptionError(phase, ctx.Err())
}

// Run executes a complete test and returns its report. On any phase failure the
// remaining phases are skipped.
func (o *Orchestrator) Run(ctx context.Context, onProgress ProgressFunc) (*Report, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.busy.Store(false)

	o.transition(StateIdle)
	report := &Report{}
	var err error

	o.transition(StateProbing)
	if report.Latency, err = o.engine.Probe(ctx); err != nil {
		return nil, o.fail(ctx, err)
	}
	if err = o.checkCancelled(ctx, PhasePing); err != nil {
		return nil, o.fail(ctx, err)
	}

	o.transition(StateDownloading)
	if report.Download, err = o.engine.RunDownload(ctx, onProgress); err != nil {
		return nil, o.fail(ctx, err)
	}
	if err = o.checkCancelled(ctx, PhaseDownload); err != nil {
		return nil, o.fail(ctx, err)
	}

	o.transition(StateUploading)
	if report.Upload, err = o.engine.RunUpload(ctx, onProgress); err != nil {
		return nil, o.fail(ctx, err)
	}
	if err = o.checkCancelled(ctx, PhaseUpload); err != nil {
		return nil, o.fail(ctx, err)
	}

	report.Result = &SpeedResult{
		ID:              uuid.NewString(),
		Timestamp:       o.engine.now().UTC(),
		Server:          o.engine.config.ServerName,
		Ping:            report.Latency.Millis,
		Download:        report.Download.Mbps,
		Upload:          report.Upload.Mbps,
		DownloadPartial: report.Download.Partial,
		UploadPartial:   report.Upload.Partial,
	}
	o.transition(StateCompleted)

	if o.sink != nil {
		if err := o.persist(report.Result); err != nil {
			o.logger.Error("could not persist result", zap.String("id", report.Result.ID), zap.Error(err))
		}
	}

	return report, nil
}

const persistTimeout = 10 * time.Second

func (o *Orchestrator) persist(result *SpeedResult) error {
	// the test context may already be close to its deadline
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	return errors.Wrap(o.sink.Save(ctx, result), "sink rejected result")
}
