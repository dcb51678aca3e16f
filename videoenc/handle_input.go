package videoenc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/frametable"
	"github.com/xaionaro-go/codecdriver/logger"
	"github.com/xaionaro-go/xsync"
)

// HandleInput copies the frame into an input slot of the codec and queues
// it. The returned error reflects the state of the stream: nil means
// everything is fine.
func (e *Encoder) HandleInput(
	ctx context.Context,
	in *Input,
) (_err error) {
	logger.Tracef(ctx, "HandleInput")
	defer func() { logger.Tracef(ctx, "/HandleInput: %v", _err) }()
	return xsync.DoA2R1(ctx, &e.locker, e.handleInputLocked, ctx, in)
}

func (e *Encoder) handleInputLocked(
	ctx context.Context,
	in *Input,
) error {
	if !e.started {
		logger.Errorf(ctx, "the codec is not started yet")
		return ErrNotStarted{}
	}
	if e.flushing {
		return ErrFlushing{}
	}
	if e.downstreamStatus != FlowStatusOK {
		return flowStatusToError(e.downstreamStatus)
	}

	session := e.session
	if in.ForceKeyFrame {
		if err := session.RequestKeyFrame(ctx); err != nil {
			logger.Warnf(ctx, "unable to request a key frame: %v", err)
		} else {
			logger.Debugf(ctx, "passed the key frame request to the codec")
		}
	}

	idx, err := e.dequeueInputSlotLocked(ctx, session)
	if err != nil {
		return err
	}

	buf, err := session.GetInputBuffer(ctx, idx)
	if err != nil {
		e.abortInputSlotLocked(ctx, session, idx)
		err = ErrWrite{Err: fmt.Errorf("unable to get the input buffer: %w", err)}
		e.frameErrorLocked(ctx, ErrorKindWrite, err)
		return err
	}

	size := min(len(buf), e.colorInfo.FrameSize)
	if err := e.colorInfo.CopyIn(buf[:size], in.Payload); err != nil {
		e.abortInputSlotLocked(ctx, session, idx)
		err = ErrWrite{Err: fmt.Errorf("unable to write %dB into a %dB buffer: %w", e.colorInfo.FrameSize, len(buf), err)}
		e.frameErrorLocked(ctx, ErrorKindWrite, err)
		return err
	}

	info := codecsession.BufferInfo{
		Size: size,
	}
	if in.PTS.IsSet() {
		pts := in.PTS.Get()
		info.PresentationTimeUs = pts.Microseconds()
		e.lastSubmittedTS = pts
	}
	if in.Duration.IsSet() {
		e.lastSubmittedTS += in.Duration.Get()
	}
	if in.SyncPoint {
		info.Flags |= codecsession.BufferFlagSyncFrame
	}

	frame := e.frames.Insert(&frametable.Frame{
		PTS:           in.PTS,
		Duration:      in.Duration,
		ForceKeyFrame: in.ForceKeyFrame,
		SyncPoint:     in.SyncPoint,
		SubmittedAt:   time.Now(),
	})

	logger.Tracef(ctx, "queueing input slot %d: %s (frame %s)", idx, info, frame)
	if err := session.QueueInputSlot(ctx, idx, info); err != nil {
		e.frames.Remove(frame)
		if e.flushing {
			return ErrFlushing{}
		}
		var queueErr ErrQueue
		if !errors.As(err, &queueErr) {
			err = ErrQueue{Err: err}
		}
		e.fatalLocked(ctx, ErrorKindQueue, err)
		return err
	}
	e.stats.Submitted.Inc()
	e.drained = false

	return flowStatusToError(e.downstreamStatus)
}

// dequeueInputSlotLocked waits for a free input slot with the encoder
// unlocked, rechecking the stream state after each wait.
func (e *Encoder) dequeueInputSlotLocked(
	ctx context.Context,
	session codecsession.Session,
) (codecsession.SlotIndex, error) {
	for {
		idx := codecsession.InvalidSlotIndex
		var err error
		e.locker.UDo(ctx, func() {
			idx, err = session.DequeueInputSlot(ctx, e.config.DequeueTimeout)
		})

		if e.flushing || session != e.session || e.downstreamStatus == FlowStatusFlushing {
			if err == nil {
				e.abortInputSlotLocked(ctx, session, idx)
			}
			return codecsession.InvalidSlotIndex, ErrFlushing{}
		}
		if e.downstreamStatus != FlowStatusOK {
			if err == nil {
				e.abortInputSlotLocked(ctx, session, idx)
			}
			logger.Errorf(ctx, "downstream returned %s", e.downstreamStatus)
			return codecsession.InvalidSlotIndex, flowStatusToError(e.downstreamStatus)
		}

		switch {
		case err == nil:
			return idx, nil
		case errors.Is(err, codecsession.ErrWouldBlock):
			logger.Tracef(ctx, "dequeueing an input slot timed out")
			continue
		case ctx.Err() != nil:
			return codecsession.InvalidSlotIndex, ctx.Err()
		default:
			var dequeueErr ErrDequeue
			if !errors.As(err, &dequeueErr) {
				err = ErrDequeue{Err: err}
			}
			e.fatalLocked(ctx, ErrorKindDequeue, err)
			return codecsession.InvalidSlotIndex, err
		}
	}
}

// abortInputSlotLocked returns a dequeued input slot to the codec without
// any data in it.
func (e *Encoder) abortInputSlotLocked(
	ctx context.Context,
	session codecsession.Session,
	idx codecsession.SlotIndex,
) {
	e.stats.Aborted.Inc()
	if err := session.QueueInputSlot(ctx, idx, codecsession.BufferInfo{}); err != nil && !e.flushing {
		logger.Warnf(ctx, "unable to return input slot %d: %v", idx, err)
	}
}
