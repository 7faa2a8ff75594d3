package speedtest

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func (e *Engine) probeOnce(ctx context.Context) (time.Duration, *Error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.PingTimeout)
	defer cancel()

	start := e.now()
	err := e.transport.Ping(ctx)
	elapsed := e.now().Sub(start)

	if err != nil {
		if ctx.Err() != nil {
			return 0, interruptionError(PhasePing, ctx.Err())
		}
		return 0, newError(KindNetwork, PhasePing, errors.Wrap(err, "ping failed"))
	}
	return elapsed, nil
}

// Probe measures the round-trip time to the ping endpoint in milliseconds. Probes are
// not retried; with PingSamples > 1 the mean of the sequential probes is reported.
func (e *Engine) Probe(ctx context.Context) (*LatencyResult, error) {
	durations := []time.Duration{}

	for len(durations) < e.config.PingSamples {
		elapsed, err := e.probeOnce(ctx)
		if err != nil {
			observePhase(PhasePing, err.Kind.String())
			return nil, err
		}
		durations = append(durations, elapsed)
	}

	stats := getDurationMSStats(durations)
	observePhase(PhasePing, "ok")
	LatencyMilliseconds.Observe(stats.Mean)
	e.logger.Info("ping finished",
		zap.Float64("ms", stats.Mean),
		zap.Int("samples", stats.NSamples),
	)

	return &LatencyResult{
		Millis: stats.Mean,
		Stats:  stats,
	}, nil
}
