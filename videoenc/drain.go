package videoenc

import (
	"context"
	"time"

	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/logger"
	"github.com/xaionaro-go/xsync"
)

// Drain pushes an end-of-stream buffer through the codec and waits until
// every pending output is delivered. It does nothing if there is nothing
// to drain.
func (e *Encoder) Drain(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Drain")
	defer func() { logger.Tracef(ctx, "/Drain: %v", _err) }()
	return xsync.DoA1R1(ctx, &e.locker, e.drainLocked, ctx)
}

// Finish is Drain called at the end of the stream.
func (e *Encoder) Finish(ctx context.Context) error {
	return e.Drain(ctx)
}

func (e *Encoder) drainLocked(ctx context.Context) (_err error) {
	if !e.started {
		logger.Debugf(ctx, "the codec is not started yet")
		return nil
	}
	if e.drained {
		logger.Debugf(ctx, "the codec is already drained")
		return nil
	}
	if e.downstreamStatus != FlowStatusOK {
		logger.Debugf(ctx, "nothing will collect the outputs, downstream status is %s", e.downstreamStatus)
		return flowStatusToError(e.downstreamStatus)
	}

	session := e.session
	idx := codecsession.InvalidSlotIndex
	var err error
	e.locker.UDo(ctx, func() {
		idx, err = session.DequeueInputSlot(ctx, e.config.DrainInputTimeout)
	})
	if err != nil {
		logger.Errorf(ctx, "unable to acquire an input slot for the end-of-stream: %v", err)
		return ErrDequeue{Err: err}
	}
	if e.flushing || session != e.session {
		e.abortInputSlotLocked(ctx, session, idx)
		return ErrFlushing{}
	}
	if _, err := session.GetInputBuffer(ctx, idx); err != nil {
		e.abortInputSlotLocked(ctx, session, idx)
		logger.Errorf(ctx, "unable to get the input buffer for the end-of-stream: %v", err)
		return ErrQueue{Err: err}
	}

	e.stats.Drains.Inc()
	e.draining = true
	e.drainResult = nil
	drainedCh := e.getChangeChanDrained()
	defer func() {
		e.drained = true
		e.draining = false
	}()

	info := codecsession.BufferInfo{
		PresentationTimeUs: e.lastSubmittedTS.Microseconds(),
		Flags:              codecsession.BufferFlagEndOfStream,
	}
	if err := session.QueueInputSlot(ctx, idx, info); err != nil {
		logger.Errorf(ctx, "unable to queue the end-of-stream: %v", err)
		if e.flushing {
			return ErrFlushing{}
		}
		return ErrQueue{Err: err}
	}

	logger.Debugf(ctx, "waiting until the codec is drained")
	var (
		timedOut bool
		ctxErr   error
	)
	e.locker.UDo(ctx, func() {
		t := time.NewTimer(e.config.DrainTimeout)
		defer t.Stop()
		select {
		case <-drainedCh:
		case <-t.C:
			timedOut = true
		case <-ctx.Done():
			ctxErr = ctx.Err()
		}
	})

	switch {
	case !e.draining:
		logger.Debugf(ctx, "drain result: %v", e.drainResult)
		return e.drainResult
	case timedOut:
		logger.Errorf(ctx, "the codec was not drained within %v", e.config.DrainTimeout)
		e.drainTimedOut = true
		return ErrDrainTimeout{Timeout: e.config.DrainTimeout}
	default:
		return ctxErr
	}
}
