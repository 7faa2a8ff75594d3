package speedtest

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

type ErrorKind int

const (
	KindConfig ErrorKind = iota + 1
	KindNetwork
	KindTimeout
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhasePing     Phase = "ping"
	PhaseDownload Phase = "download"
	PhaseUpload   Phase = "upload"
)

// Error carries the kind of failure and the phase it happened in.
type Error struct {
	Kind  ErrorKind
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Phase, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrBusy   = errors.New("a speed test is already running")
	ErrNoData = errors.New("transfer completed without any data")
)

func newError(kind ErrorKind, phase Phase, err error) *Error {
	return &Error{Kind: kind, Phase: phase, Err: err}
}

// ConfigErrorf builds a KindConfig error for the setup phase.
func ConfigErrorf(format string, args ...interface{}) error {
	return newError(KindConfig, PhaseSetup, errors.Errorf(format, args...))
}

// interruptionError maps a finished phase context onto a timeout or a cancellation.
func interruptionError(phase Phase, ctxErr error) *Error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return newError(KindTimeout, phase, errors.Wrap(ctxErr, "phase exceeded its time budget"))
	}
	return newError(KindCancelled, phase, errors.Wrap(ctxErr, "phase was cancelled"))
}

// KindOf reports the kind of err if it is (or wraps) an *Error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func isKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func IsConfig(err error) bool    { return isKind(err, KindConfig) }
func IsNetwork(err error) bool   { return isKind(err, KindNetwork) }
func IsTimeout(err error) bool   { return isKind(err, KindTimeout) }
func IsCancelled(err error) bool { return isKind(err, KindCancelled) }
