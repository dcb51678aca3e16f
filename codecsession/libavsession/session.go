// Package libavsession implements codec sessions on top of libav
// encoders (including the MediaCodec ones on Android), emulating the
// slot-based buffer exchange.
package libavsession

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/colorformat"
	"github.com/xaionaro-go/codecdriver/internal"
	"github.com/xaionaro-go/codecdriver/logger"
	"github.com/xaionaro-go/codecdriver/types"
	"github.com/xaionaro-go/unsafetools"
	"github.com/xaionaro-go/xsync"
)

const (
	DefaultInputSlots = 4
)

var (
	microseconds = astiav.NewRational(1, int(time.Second/time.Microsecond))
)

type output struct {
	Info codecsession.BufferInfo
	Data []byte
}

type Session struct {
	Listener codecsession.Listener
	TimeBase types.Rational

	locker               xsync.Mutex
	codec                *astiav.Codec
	options              map[string]string
	codecContext         *astiav.CodecContext
	closer               *astikit.Closer
	frame                *astiav.Frame
	packet               *astiav.Packet
	format               *codecsession.Format
	colorInfo            *colorformat.Info
	packed               []byte
	codecConfig          []byte
	started              bool
	released             bool
	inputSlots           int
	inputBuffers         [][]byte
	free                 chan codecsession.SlotIndex
	ready                []output
	readyCh              chan struct{}
	outputs              map[codecsession.SlotIndex]output
	nextOutputIndex      codecsession.SlotIndex
	formatChangedPending bool
	codecConfigPending   bool
	keyFramePending      bool
	tracker              *codecsession.SlotTracker
}

var _ codecsession.Session = (*Session)(nil)

func newSession(
	ctx context.Context,
	codec *astiav.Codec,
	inputSlots int,
	options map[string]string,
	listener codecsession.Listener,
) *Session {
	if inputSlots <= 0 {
		inputSlots = DefaultInputSlots
	}
	s := &Session{
		Listener:   listener,
		TimeBase:   types.Rational{Num: 1, Den: int(time.Second / time.Microsecond)},
		codec:      codec,
		options:    options,
		inputSlots: inputSlots,
		readyCh:    make(chan struct{}, 1),
		outputs:    map[codecsession.SlotIndex]output{},
		tracker:    codecsession.NewSlotTracker(),
	}
	internal.SetFinalizer(ctx, s, func(s *Session) {
		if err := s.closeCodecContextLocked(ctx); err != nil {
			logger.Errorf(ctx, "unable to close the codec: %v", err)
		}
	})
	return s
}

func (s *Session) String() string {
	return fmt.Sprintf("LibAVSession(%s)", s.codec.Name())
}

func (s *Session) Configure(
	ctx context.Context,
	format *codecsession.Format,
) (_err error) {
	logger.Tracef(ctx, "Configure(%s)", format)
	defer func() { logger.Tracef(ctx, "/Configure(%s): %v", format, _err) }()
	return xsync.DoA2R1(ctx, &s.locker, s.configureLocked, ctx, format)
}

func (s *Session) configureLocked(
	ctx context.Context,
	format *codecsession.Format,
) error {
	switch {
	case s.released:
		return codecsession.ErrInvalidState{Err: fmt.Errorf("released")}
	case s.started:
		return codecsession.ErrInvalidState{Err: fmt.Errorf("cannot configure a started codec")}
	case format == nil:
		return codecsession.ErrConfiguration{Err: fmt.Errorf("no format")}
	}

	colorInfo, err := colorformat.NewInfo(format.ColorFormat, format.Width, format.Height, format.Stride, format.SliceHeight)
	if err != nil {
		return codecsession.ErrConfiguration{Err: err}
	}
	if pixelFormatFromColorFormat(format.ColorFormat) == astiav.PixelFormatNone {
		return codecsession.ErrConfiguration{Err: fmt.Errorf("color format %s is not supported", format.ColorFormat)}
	}

	if err := s.closeCodecContextLocked(ctx); err != nil {
		logger.Warnf(ctx, "unable to close the previous codec context: %v", err)
	}
	s.format = format.Clone()
	s.colorInfo = colorInfo
	if err := s.openCodecContextLocked(ctx); err != nil {
		s.format = nil
		s.colorInfo = nil
		return codecsession.ErrConfiguration{Err: err}
	}

	s.packed = make([]byte, colorInfo.SourceSize())
	s.inputBuffers = s.inputBuffers[:0]
	for range s.inputSlots {
		s.inputBuffers = append(s.inputBuffers, make([]byte, colorInfo.FrameSize))
	}
	s.resetSlotsLocked()
	return nil
}

func (s *Session) openCodecContextLocked(ctx context.Context) (_err error) {
	format := s.format
	ctx = belt.WithField(ctx, "codec_name", s.codec.Name())

	closer := astikit.NewCloser()
	defer func() {
		if _err != nil {
			if err := closer.Close(); err != nil {
				logger.Errorf(ctx, "unable to close the codec context: %v", err)
			}
		}
	}()

	codecContext := astiav.AllocCodecContext(s.codec)
	if codecContext == nil {
		return fmt.Errorf("unable to allocate codec context")
	}
	closer.Add(codecContext.Free)

	pixelFormat := pixelFormatFromColorFormat(format.ColorFormat)
	codecContext.SetWidth(format.Width)
	codecContext.SetHeight(format.Height)
	codecContext.SetPixelFormat(pixelFormat)
	codecContext.SetTimeBase(astiav.NewRational(s.TimeBase.Num, s.TimeBase.Den))
	if !format.FrameRate.IsZero() {
		codecContext.SetFramerate(astiav.NewRational(format.FrameRate.Num, format.FrameRate.Den))
	}
	if format.Bitrate > 0 {
		codecContext.SetBitRate(int64(format.Bitrate))
		codecContext.SetFlags(codecContext.Flags() & ^astiav.CodecContextFlags(astiav.CodecContextFlagQscale))
	}
	codecContext.SetGopSize(gopSize(format))
	codecContext.SetFlags(codecContext.Flags() |
		astiav.CodecContextFlags(astiav.CodecContextFlagGlobalHeader) |
		astiav.CodecContextFlags(astiav.CodecContextFlagLowDelay),
	)

	options := astiav.NewDictionary()
	internal.SetFinalizerFree(ctx, options)
	if err := options.Set("bf", "0", 0); err != nil {
		logger.Warnf(ctx, "unable to set option 'bf': %v", err)
	}
	if err := options.Set("forced-idr", "1", 0); err != nil {
		logger.Warnf(ctx, "unable to set option 'forced-idr': %v", err)
	}
	for k, v := range s.options {
		if err := options.Set(k, v, 0); err != nil {
			return fmt.Errorf("unable to set option '%s' to '%s': %w", k, v, err)
		}
	}

	if logger.FromCtx(ctx).Level() >= logger.LevelTrace {
		logger.Tracef(ctx, "codec_context: %s", spew.Sdump(unsafetools.FieldByNameInValue(reflect.ValueOf(codecContext), "c").Elem().Elem().Interface()))
	}

	if err := codecContext.Open(s.codec, options); err != nil {
		return fmt.Errorf("unable to open codec context: %w", err)
	}

	frame := astiav.AllocFrame()
	closer.Add(frame.Free)
	frame.SetWidth(format.Width)
	frame.SetHeight(format.Height)
	frame.SetPixelFormat(pixelFormat)
	if err := frame.AllocBuffer(0); err != nil {
		return fmt.Errorf("unable to allocate a frame buffer: %w", err)
	}

	packet := astiav.AllocPacket()
	closer.Add(packet.Free)

	s.codecContext = codecContext
	s.frame = frame
	s.packet = packet
	s.closer = closer
	s.codecConfig = append([]byte(nil), codecContext.ExtraData()...)
	logger.Debugf(ctx, "opened the codec with %s (codec config: %d bytes)", format, len(s.codecConfig))
	return nil
}

func (s *Session) closeCodecContextLocked(ctx context.Context) error {
	if s.closer == nil {
		return nil
	}
	closer := s.closer
	s.closer = nil
	s.codecContext = nil
	s.frame = nil
	s.packet = nil
	belt.Flush(ctx)
	return closer.Close()
}

// gopSize converts the key frame interval (seconds) into frames: zero
// means every frame is a key frame, a negative value means only the
// first one is.
func gopSize(format *codecsession.Format) int {
	switch {
	case format.KeyFrameInterval < 0:
		return 1 << 30
	case format.KeyFrameInterval == 0:
		return 1
	}
	fps := format.FrameRate.Float64()
	if fps <= 0 {
		fps = 30
	}
	return max(1, int(format.KeyFrameInterval*fps+0.5))
}

func (s *Session) resetSlotsLocked() {
	s.free = make(chan codecsession.SlotIndex, len(s.inputBuffers))
	for idx := range s.inputBuffers {
		s.free <- codecsession.SlotIndex(idx)
	}
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

// resetCodecLocked brings the codec back to accepting frames after a
// flush or an end of stream.
func (s *Session) resetCodecLocked(ctx context.Context) error {
	if s.codecContext == nil {
		return fmt.Errorf("the codec is closed")
	}
	if s.codec.Capabilities()&astiav.CodecCapabilityEncoderFlush != 0 {
		logger.Tracef(ctx, "flushing buffers")
		s.codecContext.FlushBuffers()
		return nil
	}
	logger.Debugf(ctx, "the encoder cannot be flushed, reopening it")
	if err := s.closeCodecContextLocked(ctx); err != nil {
		logger.Warnf(ctx, "unable to close the codec context: %v", err)
	}
	if err := s.openCodecContextLocked(ctx); err != nil {
		return err
	}
	s.codecConfigPending = len(s.codecConfig) > 0
	return nil
}

func (s *Session) Start(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Start")
	defer func() { logger.Tracef(ctx, "/Start: %v", _err) }()
	return xsync.DoR1(ctx, &s.locker, func() error {
		switch {
		case s.released:
			return codecsession.ErrInvalidState{Err: fmt.Errorf("released")}
		case s.started:
			return nil
		case s.codecContext == nil:
			return codecsession.ErrInvalidState{Err: fmt.Errorf("not configured")}
		}
		s.started = true
		s.formatChangedPending = true
		s.codecConfigPending = len(s.codecConfig) > 0
		s.resetSlotsLocked()
		return nil
	})
}

func (s *Session) Stop(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Stop")
	defer func() { logger.Tracef(ctx, "/Stop: %v", _err) }()
	return xsync.DoR1(ctx, &s.locker, func() error {
		if !s.started {
			return nil
		}
		s.started = false
		s.resetSlotsLocked()
		s.notifyReadyLocked()
		// the codec context is reopened by the next Configure
		return s.closeCodecContextLocked(ctx)
	})
}

func (s *Session) Flush(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Flush")
	defer func() { logger.Tracef(ctx, "/Flush: %v", _err) }()
	return xsync.DoR1(ctx, &s.locker, func() error {
		if !s.started {
			return codecsession.ErrInvalidState{Err: fmt.Errorf("not started")}
		}
		s.resetSlotsLocked()
		s.notifyReadyLocked()
		return s.resetCodecLocked(ctx)
	})
}

func (s *Session) Release(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Release")
	defer func() { logger.Tracef(ctx, "/Release: %v", _err) }()
	return xsync.DoR1(ctx, &s.locker, func() error {
		s.started = false
		s.released = true
		s.resetSlotsLocked()
		s.notifyReadyLocked()
		return s.closeCodecContextLocked(ctx)
	})
}

func (s *Session) DequeueInputSlot(
	ctx context.Context,
	timeout time.Duration,
) (codecsession.SlotIndex, error) {
	free, err := xsync.DoR2(ctx, &s.locker, func() (chan codecsession.SlotIndex, error) {
		if !s.started {
			return nil, codecsession.ErrInvalidState{Err: fmt.Errorf("not started")}
		}
		return s.free, nil
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
		return nil, codecsession.ErrSlotNotOwned{Index: idx, Input: true}
	}
	return xsync.DoR1(ctx, &s.locker, func() []byte {
		return s.inputBuffers[idx]
	}), nil
}

func (s *Session) QueueInputSlot(
	ctx context.Context,
	idx codecsession.SlotIndex,
	info codecsession.BufferInfo,
) (_err error) {
	logger.Tracef(ctx, "QueueInputSlot(%d, %s)", idx, info)
	defer func() { logger.Tracef(ctx, "/QueueInputSlot(%d, %s): %v", idx, info, _err) }()
	return xsync.DoA3R1(ctx, &s.locker, s.queueInputSlotLocked, ctx, idx, info)
}

func (s *Session) queueInputSlotLocked(
	ctx context.Context,
	idx codecsession.SlotIndex,
	info codecsession.BufferInfo,
) error {
	if err := s.tracker.QueuedInput(idx); err != nil {
		return err
	}
	s.free <- idx

	payload, err := info.Payload(s.inputBuffers[idx])
	if err != nil {
		return codecsession.ErrQueue{Err: err}
	}
	if len(payload) > 0 {
		if err := s.encodeLocked(ctx, payload, info); err != nil {
			return codecsession.ErrQueue{Err: err}
		}
	}
	if info.IsEndOfStream() {
		if err := s.drainLocked(ctx, info.PresentationTimeUs); err != nil {
			return codecsession.ErrQueue{Err: err}
		}
	}
	return nil
}

func (s *Session) encodeLocked(
	ctx context.Context,
	payload []byte,
	info codecsession.BufferInfo,
) error {
	if err := s.colorInfo.CopyOut(s.packed, payload); err != nil {
		return err
	}
	f := s.frame
	if err := f.MakeWritable(); err != nil {
		return fmt.Errorf("unable to make the frame writable: %w", err)
	}
	if err := f.Data().SetBytes(s.packed, 1); err != nil {
		return fmt.Errorf("unable to fill the frame: %w", err)
	}
	f.SetPts(astiav.RescaleQ(info.PresentationTimeUs, microseconds, s.codecContext.TimeBase()))
	if s.keyFramePending || info.Flags.Has(codecsession.BufferFlagSyncFrame) {
		s.keyFramePending = false
		logger.Debugf(ctx, "forcing the frame to be a key frame")
		f.SetFlags(f.Flags().Add(astiav.FrameFlagKey))
		f.SetPictureType(astiav.PictureTypeI)
	} else {
		f.SetFlags(f.Flags().Del(astiav.FrameFlagKey))
		f.SetPictureType(astiav.PictureTypeNone)
	}

	err := s.codecContext.SendFrame(f)
	if errors.Is(err, astiav.ErrEagain) {
		if _, err := s.receivePacketsLocked(ctx); err != nil {
			return err
		}
		err = s.codecContext.SendFrame(f)
	}
	if err != nil {
		return fmt.Errorf("unable to send the frame: %w", err)
	}
	_, err = s.receivePacketsLocked(ctx)
	return err
}

func (s *Session) drainLocked(
	ctx context.Context,
	ptsUs int64,
) error {
	logger.Debugf(ctx, "draining the codec")
	if err := s.codecContext.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("unable to send the end of stream: %w", err)
	}
	for {
		eof, err := s.receivePacketsLocked(ctx)
		if err != nil {
			return err
		}
		if eof {
			break
		}
	}
	s.ready = append(s.ready, output{
		Info: codecsession.BufferInfo{
			PresentationTimeUs: ptsUs,
			Flags:              codecsession.BufferFlagEndOfStream,
		},
	})
	s.notifyReadyLocked()

	if err := s.resetCodecLocked(ctx); err != nil {
		err = fmt.Errorf("unable to reset the codec after the end of stream: %w", err)
		if s.Listener != nil {
			s.Listener.OnSessionError(ctx, err)
		}
		return err
	}
	return nil
}

// receivePacketsLocked moves every packet available in the encoder
// into the ready queue.
func (s *Session) receivePacketsLocked(ctx context.Context) (bool, error) {
	defer s.notifyReadyLocked()
	pkt := s.packet
	for {
		err := s.codecContext.ReceivePacket(pkt)
		switch {
		case err == nil:
		case errors.Is(err, astiav.ErrEagain):
			return false, nil
		case errors.Is(err, astiav.ErrEof):
			return true, nil
		default:
			return false, fmt.Errorf("unable to receive a packet: %w", err)
		}

		if s.codecConfigPending {
			s.codecConfigPending = false
			s.ready = append(s.ready, output{
				Info: codecsession.BufferInfo{
					Size:  len(s.codecConfig),
					Flags: codecsession.BufferFlagCodecConfig,
				},
				Data: append([]byte(nil), s.codecConfig...),
			})
		}

		var ptsUs int64
		if pts := pkt.Pts(); pts != astiav.NoPtsValue {
			ptsUs = astiav.RescaleQ(pts, s.codecContext.TimeBase(), microseconds)
		}
		var flags codecsession.BufferFlags
		if pkt.Flags().Has(astiav.PacketFlagKey) {
			flags |= codecsession.BufferFlagSyncFrame
		}
		data := append([]byte(nil), pkt.Data()...)
		logger.Tracef(ctx, "received a packet: pts:%dus size:%d flags:%s", ptsUs, len(data), flags)
		s.ready = append(s.ready, output{
			Info: codecsession.BufferInfo{
				Size:               len(data),
				PresentationTimeUs: ptsUs,
				Flags:              flags,
			},
			Data: data,
		})
		pkt.Unref()
	}
}

func (s *Session) DequeueOutputSlot(
	ctx context.Context,
	timeout time.Duration,
) (codecsession.SlotIndex, codecsession.BufferInfo, error) {
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
		s.locker.Do(xsync.WithNoLogging(ctx, true), func() {
			done = true
			switch {
			case !s.started:
				err = codecsession.ErrInvalidState{Err: fmt.Errorf("not started")}
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
	return xsync.DoR1(ctx, &s.locker, func() error {
		if err := s.tracker.ReleasedOutput(idx); err != nil {
			return err
		}
		delete(s.outputs, idx)
		return nil
	})
}

func (s *Session) GetOutputFormat(ctx context.Context) (*codecsession.Format, error) {
	return xsync.DoR2(ctx, &s.locker, func() (*codecsession.Format, error) {
		if s.format == nil || s.codecContext == nil {
			return nil, codecsession.ErrInvalidState{Err: fmt.Errorf("not configured")}
		}
		f := s.format.Clone()
		f.Bitrate = uint64(s.codecContext.BitRate())
		return f, nil
	})
}

func (s *Session) RequestKeyFrame(ctx context.Context) error {
	s.locker.Do(ctx, func() {
		s.keyFramePending = true
	})
	return nil
}

func (s *Session) SetDynamicBitrate(
	ctx context.Context,
	bitrate uint64,
) (_err error) {
	logger.Debugf(ctx, "SetDynamicBitrate(%d)", bitrate)
	defer func() { logger.Debugf(ctx, "/SetDynamicBitrate(%d): %v", bitrate, _err) }()
	return xsync.DoR1(ctx, &s.locker, func() error {
		if !s.started {
			return codecsession.ErrInvalidState{Err: fmt.Errorf("not started")}
		}
		if err := setDynamicBitrate(ctx, s.codec, s.codecContext, bitrate); err != nil {
			return codecsession.ErrInvalidState{Err: err}
		}
		s.format.Bitrate = bitrate
		return nil
	})
}
