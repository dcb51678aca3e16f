package videoenc

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/frametable"
	"github.com/xaionaro-go/codecdriver/helpers/closuresignaler"
	"github.com/xaionaro-go/codecdriver/internal"
	"github.com/xaionaro-go/codecdriver/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xcontext"
)

type collectLoop struct {
	stop *closuresignaler.ClosureSignaler
	done *closuresignaler.ClosureSignaler
}

func (e *Encoder) startCollectLoopLocked(ctx context.Context) {
	if e.loop != nil {
		logger.Errorf(ctx, "the collect loop is already running")
		return
	}
	loop := &collectLoop{
		stop: closuresignaler.New(),
		done: closuresignaler.New(),
	}
	e.loop = loop
	observability.Go(xcontext.DetachDone(ctx), func(ctx context.Context) {
		defer loop.done.Close(ctx)
		logger.Debugf(ctx, "collect loop started")
		defer logger.Debugf(ctx, "collect loop finished")
		for {
			select {
			case <-loop.stop.CloseChan():
				return
			default:
			}
			if !e.collectIteration(ctx) {
				return
			}
		}
	})
}

// stopCollectLoopLocked asks the collect loop to stop and waits for it
// with the encoder unlocked (the loop needs the lock to notice).
func (e *Encoder) stopCollectLoopLocked(ctx context.Context) {
	loop := e.loop
	if loop == nil {
		return
	}
	e.loop = nil
	loop.stop.Close(ctx)
	e.locker.UDo(ctx, func() {
		if err := loop.done.Wait(xcontext.DetachDone(ctx)); err != nil {
			logger.Errorf(ctx, "unable to wait for the collect loop: %v", err)
		}
	})
}

func (e *Encoder) collectIteration(ctx context.Context) bool {
	var (
		session codecsession.Session
		proceed bool
	)
	e.locker.Do(ctx, func() {
		if e.flushing || !e.started || e.session == nil || e.downstreamStatus == FlowStatusError {
			return
		}
		session = e.session
		if e.pendingFormat != nil {
			if err := e.negotiateLocked(ctx, e.pendingFormat); err != nil {
				e.fatalLocked(ctx, ErrorKindNegotiation, ErrNegotiation{Err: err})
				return
			}
		}
		proceed = true
	})
	if !proceed {
		return false
	}

	idx, info, err := session.DequeueOutputSlot(ctx, e.config.DequeueTimeout)

	e.locker.Do(ctx, func() {
		proceed = e.handleDequeuedLocked(ctx, session, idx, info, err)
	})
	return proceed
}

func (e *Encoder) handleDequeuedLocked(
	ctx context.Context,
	session codecsession.Session,
	idx codecsession.SlotIndex,
	info codecsession.BufferInfo,
	err error,
) bool {
	if e.flushing || session != e.session {
		if err == nil && idx.IsValid() {
			if err := session.ReleaseOutputSlot(ctx, idx, false); err != nil {
				logger.Debugf(ctx, "unable to release output slot %d while flushing: %v", idx, err)
			}
		}
		logger.Debugf(ctx, "flushing, stopping the collect loop")
		e.downstreamStatus = FlowStatusFlushing
		return false
	}
	if e.downstreamStatus == FlowStatusError {
		if err == nil && idx.IsValid() {
			if err := session.ReleaseOutputSlot(ctx, idx, false); err != nil {
				logger.Debugf(ctx, "unable to release output slot %d after a fatal error: %v", idx, err)
			}
		}
		logger.Debugf(ctx, "the stream failed, stopping the collect loop")
		return false
	}

	switch {
	case err == nil:
	case errors.Is(err, codecsession.ErrWouldBlock):
		logger.Tracef(ctx, "dequeueing an output slot timed out")
		return true
	case errors.Is(err, codecsession.ErrFormatChanged):
		logger.Debugf(ctx, "the output format has changed")
		format, err := session.GetOutputFormat(ctx)
		if err != nil {
			e.fatalLocked(ctx, ErrorKindNegotiation, ErrNegotiation{Err: err})
			return false
		}
		if err := e.negotiateLocked(ctx, format); err != nil {
			e.fatalLocked(ctx, ErrorKindNegotiation, ErrNegotiation{Err: err})
			return false
		}
		return true
	default:
		var dequeueErr ErrDequeue
		if !errors.As(err, &dequeueErr) {
			err = ErrDequeue{Err: err}
		}
		e.fatalLocked(ctx, ErrorKindDequeue, err)
		return false
	}

	return e.processOutputLocked(ctx, session, idx, info)
}

func (e *Encoder) processOutputLocked(
	ctx context.Context,
	session codecsession.Session,
	idx codecsession.SlotIndex,
	info codecsession.BufferInfo,
) bool {
	logger.Tracef(ctx, "got output slot %d: %s", idx, info)

	payload, err := e.getOutputPayloadLocked(ctx, session, idx, info)
	if err != nil {
		if err := session.ReleaseOutputSlot(ctx, idx, false); err != nil {
			logger.Debugf(ctx, "unable to release output slot %d: %v", idx, err)
		}
		e.fatalLocked(ctx, ErrorKindDequeue, ErrDequeue{Err: err})
		return false
	}

	status := FlowStatusOK
	isCodecData := false
	if info.IsCodecConfig() && info.Size > 0 {
		isCodecData, status = e.handleCodecConfigLocked(ctx, payload)
	}
	if status == FlowStatusOK && !isCodecData {
		status = e.finishOutputLocked(ctx, payload, info)
	}

	if err := session.ReleaseOutputSlot(ctx, idx, false); err != nil {
		if e.flushing {
			e.downstreamStatus = FlowStatusFlushing
			return false
		}
		e.fatalLocked(ctx, ErrorKindDequeue, ErrDequeue{Err: err})
		return false
	}

	if info.IsEndOfStream() || status == FlowStatusEOS {
		switch {
		case e.draining:
			logger.Debugf(ctx, "drained")
			e.wakeDrainersLocked(ctx, nil)
		case e.drainTimedOut && info.IsEndOfStream():
			logger.Warnf(ctx, "the end-of-stream of a timed out drain finally arrived")
			e.drainTimedOut = false
		case status == FlowStatusOK:
			logger.Debugf(ctx, "the codec signalled the end of the stream")
			status = FlowStatusEOS
		}
	}

	if e.downstreamStatus != FlowStatusOK {
		// set while the listener was called with the encoder unlocked
		logger.Debugf(ctx, "the stream is already in the %s state", e.downstreamStatus)
		return false
	}
	e.downstreamStatus = status
	switch status {
	case FlowStatusOK:
		return true
	case FlowStatusEOS:
		logger.Debugf(ctx, "end of stream")
		e.wakeDrainersLocked(ctx, ErrFlow{Status: status})
		return false
	case FlowStatusNotNegotiated:
		e.fatalLocked(ctx, ErrorKindNegotiation, ErrFlow{Status: status})
		e.downstreamStatus = status
		return false
	default:
		e.fatalLocked(ctx, ErrorKindFlow, ErrFlow{Status: status})
		e.downstreamStatus = status
		return false
	}
}

func (e *Encoder) getOutputPayloadLocked(
	ctx context.Context,
	session codecsession.Session,
	idx codecsession.SlotIndex,
	info codecsession.BufferInfo,
) ([]byte, error) {
	buf, err := session.GetOutputBuffer(ctx, idx)
	if err != nil {
		return nil, err
	}
	payload, err := info.Payload(buf)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), payload...), nil
}

// handleCodecConfigLocked stores stream headers: either to be prepended
// to the next output (byte-stream) or as codec data of the output
// description.
func (e *Encoder) handleCodecConfigLocked(
	ctx context.Context,
	payload []byte,
) (bool, FlowStatus) {
	var desc OutputDescription
	if e.outputDescription != nil {
		desc = *e.outputDescription
	} else {
		desc = e.outputDescriptionFromFormat(ctx, e.pendingFormat)
	}

	if desc.CodecDataInBytestream {
		if len(payload) <= 4 || binary.BigEndian.Uint32(payload) != 0x00000001 {
			logger.Debugf(ctx, "codec config without a start code in a byte-stream, passing as is")
			return false, FlowStatusOK
		}
		logger.Debugf(ctx, "got stream headers in the byte-stream format")
		e.headers = [][]byte{payload}
		e.stats.HeaderOutputs.Inc()
		return true, FlowStatusOK
	}

	logger.Debugf(ctx, "got codec data")
	desc.CodecData = [][]byte{payload}
	e.stats.HeaderOutputs.Inc()
	if err := e.renegotiateLocked(ctx, desc); err != nil {
		logger.Errorf(ctx, "unable to renegotiate with the codec data: %v", err)
		return true, FlowStatusNotNegotiated
	}
	return true, FlowStatusOK
}

func (e *Encoder) finishOutputLocked(
	ctx context.Context,
	payload []byte,
	info codecsession.BufferInfo,
) FlowStatus {
	frame := e.frames.FindNearest(info.PresentationTime())
	if frame != nil {
		for _, stale := range e.frames.EvictStaleBefore(ctx, frame) {
			e.stats.Evicted.Inc()
			status := e.deliverLocked(ctx, stale, Output{PTS: ptsOrZero(stale), Dropped: true})
			if status != FlowStatusOK {
				logger.Debugf(ctx, "finishing a stale frame %s resulted in %s", stale, status)
			}
		}
		internal.Assert(ctx, e.frames.Remove(frame), frame)
	}

	if info.Size > 0 {
		if info.Flags.Has(codecsession.BufferFlagPartialFrame) {
			logger.Warnf(ctx, "partial frames are not reassembled")
		}
		if len(e.headers) > 0 {
			var withHeaders []byte
			for _, hdr := range e.headers {
				withHeaders = append(withHeaders, hdr...)
			}
			payload = append(withHeaders, payload...)
			e.headers = nil
		}
		out := Output{
			Payload:   payload,
			PTS:       info.PresentationTime(),
			Flags:     info.Flags,
			SyncFrame: info.Flags.Has(codecsession.BufferFlagSyncFrame),
		}
		if frame == nil {
			logger.Errorf(ctx, "no corresponding frame found for the output with pts %v", out.PTS)
			e.stats.Unmatched.Inc()
		} else {
			frame.OutputPayload = payload
		}
		return e.deliverLocked(ctx, frame, out)
	}

	if frame != nil {
		return e.deliverLocked(ctx, frame, Output{
			PTS:     info.PresentationTime(),
			Flags:   info.Flags,
			Dropped: true,
		})
	}
	return FlowStatusOK
}

func (e *Encoder) deliverLocked(
	ctx context.Context,
	frame *frametable.Frame,
	out Output,
) FlowStatus {
	var err error
	e.locker.UDo(ctx, func() {
		err = e.Listener.FinishedOutput(ctx, frame, out)
	})
	e.stats.Finished.Inc()
	switch {
	case err == nil:
		return FlowStatusOK
	case errors.Is(err, ErrEndOfStream):
		return FlowStatusEOS
	default:
		logger.Errorf(ctx, "unable to pass the output downstream: %v", err)
		return FlowStatusError
	}
}

func ptsOrZero(f *frametable.Frame) time.Duration {
	if !f.PTS.IsSet() {
		return 0
	}
	return f.PTS.Get()
}
