// Package fakesession provides an in-memory codec session which echoes
// inputs back as outputs, with configurable reordering, delays and
// failures. It verifies the slot discipline of its user.
package fakesession

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/logger"
	"github.com/xaionaro-go/xsync"
)

type output struct {
	Info codecsession.BufferInfo
	Data []byte
}

type Session struct {
	Params     Params
	Counters   *Counters
	Descriptor codecsession.Descriptor
	Listener   codecsession.Listener

	locker               xsync.Mutex
	format               *codecsession.Format
	configured           bool
	started              bool
	released             bool
	bitrate              uint64
	inputBuffers         [][]byte
	free                 chan codecsession.SlotIndex
	held                 []output
	ready                []output
	readyCh              chan struct{}
	outputs              map[codecsession.SlotIndex]output
	nextOutputIndex      codecsession.SlotIndex
	formatChangedPending bool
	codecConfigPending   bool
	keyFramePending      bool
	frameCount           uint64
	tracker              *codecsession.SlotTracker
}

var _ codecsession.Session = (*Session)(nil)

func New(
	ctx context.Context,
	params Params,
	counters *Counters,
) *Session {
	if counters == nil {
		counters = &Counters{}
	}
	s := &Session{
		Params:   params,
		Counters: counters,
		readyCh:  make(chan struct{}, 1),
		outputs:  map[codecsession.SlotIndex]output{},
		tracker:  codecsession.NewSlotTracker(),
	}
	for range params.inputSlots() {
		s.inputBuffers = append(s.inputBuffers, make([]byte, params.inputCapacity()))
	}
	s.resetSlotsLocked()
	return s
}

func (s *Session) resetSlotsLocked() {
	s.free = make(chan codecsession.SlotIndex, len(s.inputBuffers))
	for idx := range s.inputBuffers {
		s.free <- codecsession.SlotIndex(idx)
	}
	s.held = nil
	s.ready = nil
	clear(s.outputs)
	s.tracker.Reset()
}

func (s *Session) notifyReadyLocked() {
	select {
	case s.readyCh <- struct{}{}:
	default:
	}
}

func (s *Session) Configure(
	ctx context.Context,
	format *codecsession.Format,
) (_err error) {
	logger.Tracef(ctx, "Configure(%s)", format)
	defer func() { logger.Tracef(ctx, "/Configure(%s): %v", format, _err) }()
	s.Counters.Configure.Inc()
	return xsync.DoR1(ctx, &s.locker, func() error {
		switch {
		case s.released:
			return codecsession.ErrInvalidState{Err: fmt.Errorf("released")}
		case s.started:
			return codecsession.ErrInvalidState{Err: fmt.Errorf("cannot configure a started codec")}
		case s.Params.FailConfigure != nil:
			return codecsession.ErrConfiguration{Err: s.Params.FailConfigure}
		case format == nil || format.Width <= 0 || format.Height <= 0:
			return codecsession.ErrConfiguration{Err: fmt.Errorf("invalid format %s", format)}
		}
		s.format = format.Clone()
		s.bitrate = format.Bitrate
		s.configured = true
		return nil
	})
}

func (s *Session) Start(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Start")
	defer func() { logger.Tracef(ctx, "/Start: %v", _err) }()
	s.Counters.Start.Inc()
	return xsync.DoR1(ctx, &s.locker, func() error {
		switch {
		case s.released:
			return codecsession.ErrInvalidState{Err: fmt.Errorf("released")}
		case s.started:
			return nil
		case !s.configured:
			return codecsession.ErrInvalidState{Err: fmt.Errorf("not configured")}
		case s.Params.FailStart != nil:
			return s.Params.FailStart
		}
		s.started = true
		s.formatChangedPending = s.Params.EmitFormatChanged
		s.codecConfigPending = len(s.Params.CodecConfig) > 0
		s.frameCount = 0
		s.resetSlotsLocked()
		return nil
	})
}

func (s *Session) Stop(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Stop")
	defer func() { logger.Tracef(ctx, "/Stop: %v", _err) }()
	s.Counters.Stop.Inc()
	s.locker.Do(ctx, func() {
		s.started = false
		s.resetSlotsLocked()
		s.notifyReadyLocked()
	})
	return nil
}

func (s *Session) Flush(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Flush")
	defer func() { logger.Tracef(ctx, "/Flush: %v", _err) }()
	s.Counters.Flush.Inc()
	return xsync.DoR1(ctx, &s.locker, func() error {
		if !s.started {
			return codecsession.ErrInvalidState{Err: fmt.Errorf("not started")}
		}
		s.resetSlotsLocked()
		s.notifyReadyLocked()
		return nil
	})
}

func (s *Session) Release(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Release")
	defer func() { logger.Tracef(ctx, "/Release: %v", _err) }()
	s.Counters.Release.Inc()
	s.locker.Do(ctx, func() {
		s.started = false
		s.released = true
		s.resetSlotsLocked()
		s.notifyReadyLocked()
	})
	return nil
}

func (s *Session) IsStarted(ctx context.Context) bool {
	return xsync.DoR1(ctx, &s.locker, func() bool {
		return s.started
	})
}

func (s *Session) IsReleased(ctx context.Context) bool {
	return xsync.DoR1(ctx, &s.locker, func() bool {
		return s.released
	})
}

func (s *Session) Format(ctx context.Context) *codecsession.Format {
	return xsync.DoR1(ctx, &s.locker, func() *codecsession.Format {
		return s.format.Clone()
	})
}

func (s *Session) Bitrate(ctx context.Context) uint64 {
	return xsync.DoR1(ctx, &s.locker, func() uint64 {
		return s.bitrate
	})
}

// OutstandingSlots returns the amount of slots dequeued and not yet
// returned by the user.
func (s *Session) OutstandingSlots() (inputs, outputs int) {
	return s.tracker.Outstanding()
}

func (s *Session) DequeueInputSlot(
	ctx context.Context,
	timeout time.Duration,
) (_ codecsession.SlotIndex, _err error) {
	s.Counters.DequeueInput.Inc()
	var free chan codecsession.SlotIndex
	err := xsync.DoR1(ctx, &s.locker, func() error {
		switch {
		case !s.started:
			return codecsession.ErrInvalidState{Err: fmt.Errorf("not started")}
		case s.Params.FailDequeueInput != nil:
			return codecsession.ErrDequeue{Err: s.Params.FailDequeueInput}
		}
		free = s.free
		return nil
	})
	if err != nil {
		return codecsession.InvalidSlotIndex, err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return codecsession.InvalidSlotIndex, ctx.Err()
	case <-t.C:
		return codecsession.InvalidSlotIndex, codecsession.ErrWouldBlock
	case idx := <-free:
		return xsync.DoR2(ctx, &s.locker, func() (codecsession.SlotIndex, error) {
			if s.free != free {
				// the codec was flushed while waiting
				return codecsession.InvalidSlotIndex, codecsession.ErrWouldBlock
			}
			s.tracker.DequeuedInput(ctx, idx)
			return idx, nil
		})
	}
}

func (s *Session) GetInputBuffer(
	ctx context.Context,
	idx codecsession.SlotIndex,
) ([]byte, error) {
	if !s.tracker.IsInputOwned(idx) {
		s.Counters.SlotViolations.Inc()
		return nil, codecsession.ErrSlotNotOwned{Index: idx, Input: true}
	}
	return s.inputBuffers[idx], nil
}

func (s *Session) QueueInputSlot(
	ctx context.Context,
	idx codecsession.SlotIndex,
	info codecsession.BufferInfo,
) (_err error) {
	logger.Tracef(ctx, "QueueInputSlot(%d, %s)", idx, info)
	defer func() { logger.Tracef(ctx, "/QueueInputSlot(%d, %s): %v", idx, info, _err) }()
	s.Counters.QueueInput.Inc()
	return xsync.DoR1(ctx, &s.locker, func() error {
		if err := s.tracker.QueuedInput(idx); err != nil {
			s.Counters.SlotViolations.Inc()
			return err
		}
		s.free <- idx

		if s.Params.FailQueue != nil {
			return codecsession.ErrQueue{Err: s.Params.FailQueue}
		}
		payload, err := info.Payload(s.inputBuffers[idx])
		if err != nil {
			return codecsession.ErrQueue{Err: err}
		}

		if info.IsEndOfStream() {
			if len(payload) > 0 {
				s.pushFrameLocked(payload, info)
			}
			if s.Params.SwallowEOS {
				return nil
			}
			s.ready = append(s.ready, s.held...)
			s.held = nil
			s.ready = append(s.ready, output{
				Info: codecsession.BufferInfo{
					PresentationTimeUs: info.PresentationTimeUs,
					Flags:              codecsession.BufferFlagEndOfStream,
				},
			})
			s.notifyReadyLocked()
			return nil
		}

		if len(payload) == 0 {
			return nil
		}
		s.pushFrameLocked(payload, info)
		return nil
	})
}

func (s *Session) pushFrameLocked(
	payload []byte,
	info codecsession.BufferInfo,
) {
	if s.codecConfigPending {
		s.codecConfigPending = false
		s.ready = append(s.ready, output{
			Info: codecsession.BufferInfo{
				Size:  len(s.Params.CodecConfig),
				Flags: codecsession.BufferFlagCodecConfig,
			},
			Data: append([]byte(nil), s.Params.CodecConfig...),
		})
	}

	var flags codecsession.BufferFlags
	if s.frameCount == 0 || s.keyFramePending || info.Flags.Has(codecsession.BufferFlagSyncFrame) {
		flags |= codecsession.BufferFlagSyncFrame
		s.keyFramePending = false
	}
	s.frameCount++
	s.held = append(s.held, output{
		Info: codecsession.BufferInfo{
			Size:               len(payload),
			PresentationTimeUs: info.PresentationTimeUs,
			Flags:              flags,
		},
		Data: append([]byte(nil), payload...),
	})

	hold := s.Params.holdOutputs()
	if len(s.held) < hold {
		return
	}
	perm := s.Params.Permutation
	if len(perm) != len(s.held) {
		s.ready = append(s.ready, s.held...)
	} else {
		for _, i := range perm {
			s.ready = append(s.ready, s.held[i])
		}
	}
	s.held = nil
	s.notifyReadyLocked()
}

func (s *Session) DequeueOutputSlot(
	ctx context.Context,
	timeout time.Duration,
) (_ codecsession.SlotIndex, _ codecsession.BufferInfo, _err error) {
	s.Counters.DequeueOutput.Inc()
	if s.Params.NeverProduceOutput {
		time.Sleep(timeout)
		return codecsession.InvalidSlotIndex, codecsession.BufferInfo{}, codecsession.ErrWouldBlock
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		var (
			idx     = codecsession.InvalidSlotIndex
			info    codecsession.BufferInfo
			err     error
			done    bool
			readyCh chan struct{}
		)
		s.locker.Do(ctx, func() {
			done = true
			switch {
			case !s.started:
				err = codecsession.ErrInvalidState{Err: fmt.Errorf("not started")}
			case s.Params.FailDequeueOutput != nil:
				err = codecsession.ErrDequeue{Err: s.Params.FailDequeueOutput}
			case s.formatChangedPending:
				s.formatChangedPending = false
				err = codecsession.ErrFormatChanged
			case len(s.ready) > 0:
				out := s.ready[0]
				s.ready = s.ready[1:]
				idx = s.nextOutputIndex
				s.nextOutputIndex++
				s.outputs[idx] = out
				s.tracker.DequeuedOutput(ctx, idx)
				info = out.Info
			default:
				done = false
				readyCh = s.readyCh
			}
		})
		if done {
			return idx, info, err
		}

		select {
		case <-ctx.Done():
			return codecsession.InvalidSlotIndex, codecsession.BufferInfo{}, ctx.Err()
		case <-t.C:
			return codecsession.InvalidSlotIndex, codecsession.BufferInfo{}, codecsession.ErrWouldBlock
		case <-readyCh:
		}
	}
}

func (s *Session) GetOutputBuffer(
	ctx context.Context,
	idx codecsession.SlotIndex,
) ([]byte, error) {
	return xsync.DoR2(ctx, &s.locker, func() ([]byte, error) {
		out, ok := s.outputs[idx]
		if !ok {
			s.Counters.SlotViolations.Inc()
			return nil, codecsession.ErrSlotNotOwned{Index: idx}
		}
		return out.Data, nil
	})
}

func (s *Session) ReleaseOutputSlot(
	ctx context.Context,
	idx codecsession.SlotIndex,
	render bool,
) error {
	s.Counters.ReleaseOutput.Inc()
	return xsync.DoR1(ctx, &s.locker, func() error {
		if err := s.tracker.ReleasedOutput(idx); err != nil {
			s.Counters.SlotViolations.Inc()
			return err
		}
		delete(s.outputs, idx)
		return s.Params.FailRelease
	})
}

func (s *Session) GetOutputFormat(ctx context.Context) (*codecsession.Format, error) {
	return xsync.DoR2(ctx, &s.locker, func() (*codecsession.Format, error) {
		if s.format == nil {
			return nil, codecsession.ErrInvalidState{Err: fmt.Errorf("not configured")}
		}
		f := s.format.Clone()
		f.Bitrate = s.bitrate
		return f, nil
	})
}

func (s *Session) RequestKeyFrame(ctx context.Context) error {
	s.Counters.RequestKeyFrame.Inc()
	s.locker.Do(ctx, func() {
		s.keyFramePending = true
	})
	return nil
}

func (s *Session) SetDynamicBitrate(ctx context.Context, bitrate uint64) error {
	s.Counters.SetDynamicBitrate.Inc()
	return xsync.DoR1(ctx, &s.locker, func() error {
		switch {
		case !s.Params.SupportsDynamicBitrate:
			return codecsession.ErrInvalidState{Err: fmt.Errorf("dynamic bitrate is not supported")}
		case !s.started:
			return codecsession.ErrInvalidState{Err: fmt.Errorf("not started")}
		}
		s.bitrate = bitrate
		return nil
	})
}

// FailAsync reports an asynchronous codec failure to the listener.
func (s *Session) FailAsync(ctx context.Context, err error) {
	if s.Listener == nil {
		logger.Errorf(ctx, "no listener for the asynchronous error: %v", err)
		return
	}
	s.Listener.OnSessionError(ctx, err)
}
