package videoenc

import (
	"context"

	"github.com/xaionaro-go/codecdriver/logger"
	"github.com/xaionaro-go/xsync"
)

// Flush drops everything in flight (including outputs not yet collected)
// and restarts the collect loop.
func (e *Encoder) Flush(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Flush")
	defer func() { logger.Tracef(ctx, "/Flush: %v", _err) }()
	return xsync.DoA1R1(ctx, &e.locker, e.flushLocked, ctx)
}

func (e *Encoder) flushLocked(ctx context.Context) error {
	if !e.started {
		logger.Debugf(ctx, "the codec is not started yet")
		return nil
	}

	e.stats.Flushes.Inc()
	e.flushing = true
	e.state = StateFlushing
	if err := e.session.Flush(ctx); err != nil {
		logger.Warnf(ctx, "unable to flush the codec: %v", err)
	}
	e.wakeDrainersLocked(ctx, ErrFlushing{})
	e.stopCollectLoopLocked(ctx)

	e.flushing = false
	e.abortInFlightLocked(ctx)
	e.lastSubmittedTS = 0
	e.drained = true
	e.drainTimedOut = false
	e.downstreamStatus = FlowStatusOK
	e.startCollectLoopLocked(ctx)
	e.state = StateRunning
	return nil
}
