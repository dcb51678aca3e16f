package videoenc

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/codecsession/fakesession"
	"github.com/xaionaro-go/codecdriver/colorformat"
	"github.com/xaionaro-go/codecdriver/frametable"
	"github.com/xaionaro-go/codecdriver/logger"
	"github.com/xaionaro-go/codecdriver/types"
	"github.com/xaionaro-go/typing"
)

const testFrameSize = 4*4 + 2*2*2

type testOutput struct {
	Frame  *frametable.Frame
	Output Output
}

type testFatal struct {
	Kind ErrorKind
	Err  error
}

type testListener struct {
	locker sync.Mutex

	FinishedOutputErr error
	RenegotiatedErr   error

	outputs     []testOutput
	descs       []OutputDescription
	fatals      []testFatal
	frameErrors []testFatal
}

var _ Listener = (*testListener)(nil)

func (l *testListener) FinishedOutput(ctx context.Context, frame *frametable.Frame, out Output) error {
	l.locker.Lock()
	defer l.locker.Unlock()
	l.outputs = append(l.outputs, testOutput{Frame: frame, Output: out})
	return l.FinishedOutputErr
}

func (l *testListener) Renegotiated(ctx context.Context, desc OutputDescription) error {
	l.locker.Lock()
	defer l.locker.Unlock()
	l.descs = append(l.descs, desc)
	return l.RenegotiatedErr
}

func (l *testListener) FatalError(ctx context.Context, kind ErrorKind, err error) {
	l.locker.Lock()
	defer l.locker.Unlock()
	l.fatals = append(l.fatals, testFatal{Kind: kind, Err: err})
}

func (l *testListener) FrameError(ctx context.Context, kind ErrorKind, err error) {
	l.locker.Lock()
	defer l.locker.Unlock()
	l.frameErrors = append(l.frameErrors, testFatal{Kind: kind, Err: err})
}

func (l *testListener) Outputs() []testOutput {
	l.locker.Lock()
	defer l.locker.Unlock()
	return append([]testOutput(nil), l.outputs...)
}

func (l *testListener) Descriptions() []OutputDescription {
	l.locker.Lock()
	defer l.locker.Unlock()
	return append([]OutputDescription(nil), l.descs...)
}

func (l *testListener) Fatals() []testFatal {
	l.locker.Lock()
	defer l.locker.Unlock()
	return append([]testFatal(nil), l.fatals...)
}

func (l *testListener) FrameErrors() []testFatal {
	l.locker.Lock()
	defer l.locker.Unlock()
	return append([]testFatal(nil), l.frameErrors...)
}

func testCtx(t *testing.T) context.Context {
	l := logrus.Default().WithLevel(logger.LevelDebug)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.SetDefault(func() logger.Logger { return l })
	t.Cleanup(func() { belt.Flush(ctx) })
	return ctx
}

func testDescriptor() codecsession.Descriptor {
	return codecsession.Descriptor{
		Name: "fake",
		MIMETypes: []string{
			codecsession.MIMETypeH264,
			codecsession.MIMETypeVP8,
		},
		ColorFormats: []colorformat.ColorFormat{
			colorformat.ColorFormatYUV420SemiPlanar,
			colorformat.ColorFormatYUV420Planar,
		},
	}
}

func testInputState(codec Codec, width, height uint32) InputState {
	return InputState{
		Codec:       codec,
		Resolution:  types.Resolution{Width: width, Height: height},
		PixelFormat: colorformat.PixelFormatI420,
		FrameRate:   types.Rational{Num: 30, Den: 1},
	}
}

func testInput(pts time.Duration, fill byte) *Input {
	return &Input{
		PTS:     typing.Opt(pts),
		Payload: bytes.Repeat([]byte{fill}, testFrameSize),
	}
}

type testEnv struct {
	Ctx      context.Context
	Factory  *fakesession.Factory
	Listener *testListener
	Encoder  *Encoder
}

func newTestEnv(
	t *testing.T,
	params fakesession.Params,
	desc codecsession.Descriptor,
	opts ...Option,
) *testEnv {
	ctx := testCtx(t)
	env := &testEnv{
		Ctx:      ctx,
		Factory:  fakesession.NewFactory(params),
		Listener: &testListener{},
	}
	env.Encoder = New(env.Factory, desc, env.Listener, opts...)
	require.NoError(t, env.Encoder.Open(ctx))
	require.NoError(t, env.Encoder.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, env.Encoder.Close(ctx))
	})
	return env
}

func (env *testEnv) configure(t *testing.T, codec Codec, width, height uint32) {
	require.NoError(t, env.Encoder.Configure(env.Ctx, testInputState(codec, width, height)))
}

func TestEncodeMatchesReorderedOutputs(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{
		HoldOutputs:       3,
		Permutation:       []int{2, 0, 1},
		EmitFormatChanged: true,
	}, testDescriptor())
	env.configure(t, CodecH264, 4, 4)
	require.Equal(t, StateRunning, env.Encoder.State(env.Ctx))

	for i, pts := range []time.Duration{0, 33 * time.Millisecond, 66 * time.Millisecond} {
		require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(pts, byte(i+1))))
	}
	require.NoError(t, env.Encoder.Drain(env.Ctx))

	outputs := env.Listener.Outputs()
	require.Len(t, outputs, 3)
	var order []time.Duration
	for _, out := range outputs {
		require.NotNil(t, out.Frame)
		require.False(t, out.Output.Dropped)
		require.Equal(t, out.Frame.PTS.Get(), out.Output.PTS)
		require.Equal(t, byte(out.Frame.SequenceNumber+1), out.Output.Payload[0])
		require.Equal(t, out.Output.Payload, out.Frame.OutputPayload)
		order = append(order, out.Output.PTS)
	}
	require.Equal(t, []time.Duration{66 * time.Millisecond, 0, 33 * time.Millisecond}, order)

	require.Zero(t, env.Encoder.InFlight(env.Ctx))
	require.Equal(t, uint64(3), env.Encoder.Stats().Submitted.Load())
	require.Equal(t, uint64(3), env.Encoder.Stats().Finished.Load())
	require.Zero(t, env.Encoder.Stats().Unmatched.Load())
	require.Zero(t, env.Factory.Counters.SlotViolations.Load())

	descs := env.Listener.Descriptions()
	require.NotEmpty(t, descs)
	require.Equal(t, codecsession.MIMETypeH264, descs[0].MIMEType)
	require.Equal(t, types.Resolution{Width: 4, Height: 4}, descs[0].Resolution)
	require.True(t, descs[0].CodecDataInBytestream)
	require.Empty(t, env.Listener.Fatals())
}

func TestDrainIsIdempotent(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor())

	// not started
	require.NoError(t, env.Encoder.Drain(env.Ctx))
	require.Zero(t, env.Factory.Counters.QueueInput.Load())

	env.configure(t, CodecH264, 4, 4)

	// nothing was submitted
	require.NoError(t, env.Encoder.Drain(env.Ctx))
	require.Zero(t, env.Factory.Counters.QueueInput.Load())

	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(0, 1)))
	require.NoError(t, env.Encoder.Finish(env.Ctx))
	require.Equal(t, uint64(2), env.Factory.Counters.QueueInput.Load())

	require.NoError(t, env.Encoder.Drain(env.Ctx))
	require.Equal(t, uint64(2), env.Factory.Counters.QueueInput.Load())
	require.Equal(t, uint64(1), env.Encoder.Stats().Drains.Load())
}

func TestDrainTimeout(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{SwallowEOS: true}, testDescriptor(),
		OptionDrainTimeout{Timeout: 50 * time.Millisecond},
	)
	env.configure(t, CodecH264, 4, 4)
	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(0, 1)))

	err := env.Encoder.Drain(env.Ctx)
	var timeoutErr ErrDrainTimeout
	require.True(t, errors.As(err, &timeoutErr), err)

	// marked as drained anyway
	require.NoError(t, env.Encoder.Drain(env.Ctx))
	require.Equal(t, uint64(1), env.Encoder.Stats().Drains.Load())
}

func TestFlushWithStuckCodec(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{NeverProduceOutput: true}, testDescriptor(),
		OptionDequeueTimeout{Timeout: 20 * time.Millisecond},
	)
	env.configure(t, CodecH264, 4, 4)
	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(0, 1)))
	require.Equal(t, 1, env.Encoder.InFlight(env.Ctx))

	done := make(chan error, 1)
	go func() {
		done <- env.Encoder.Flush(env.Ctx)
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("flush is stuck")
	}

	require.Equal(t, StateRunning, env.Encoder.State(env.Ctx))
	require.Zero(t, env.Encoder.InFlight(env.Ctx))
	require.Equal(t, uint64(1), env.Encoder.Stats().Flushes.Load())
	require.Equal(t, uint64(1), env.Factory.Counters.Flush.Load())
	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(time.Second, 2)))
}

func TestFlushNotStarted(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor())
	require.NoError(t, env.Encoder.Flush(env.Ctx))
	require.Zero(t, env.Factory.Counters.Flush.Load())
}

func TestConfigureCosmeticAndRealChanges(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor())
	env.configure(t, CodecH264, 4, 4)
	require.Equal(t, uint64(1), env.Factory.Counters.NewSession.Load())
	require.Equal(t, uint64(1), env.Factory.Counters.Configure.Load())
	require.Equal(t, uint64(1), env.Factory.Counters.Start.Load())
	require.Zero(t, env.Factory.Counters.Stop.Load())

	state := testInputState(CodecH264, 4, 4)
	state.FrameRate = types.Rational{Num: 60, Den: 1}
	require.NoError(t, env.Encoder.Configure(env.Ctx, state))
	require.Equal(t, uint64(1), env.Factory.Counters.NewSession.Load())
	require.Equal(t, uint64(1), env.Factory.Counters.Configure.Load())
	require.Equal(t, uint64(1), env.Factory.Counters.Start.Load())
	require.Zero(t, env.Factory.Counters.Stop.Load())
	require.Zero(t, env.Factory.Counters.Release.Load())

	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(0, 1)))
	env.configure(t, CodecH264, 8, 8)
	require.Equal(t, uint64(2), env.Factory.Counters.NewSession.Load())
	require.Equal(t, uint64(2), env.Factory.Counters.Configure.Load())
	require.Equal(t, uint64(1), env.Factory.Counters.Release.Load())
	require.Equal(t, uint64(2), env.Factory.Counters.Start.Load())
	require.Equal(t, uint64(1), env.Factory.Counters.Stop.Load())
	require.Equal(t, uint64(1), env.Encoder.Stats().Drains.Load())
	require.Equal(t, StateRunning, env.Encoder.State(env.Ctx))

	sessions := env.Factory.Sessions()
	require.Len(t, sessions, 2)
	require.True(t, sessions[0].IsReleased(env.Ctx))
	format := sessions[1].Format(env.Ctx)
	require.Equal(t, 8, format.Width)
	require.Equal(t, 8, format.Stride)
	require.Equal(t, colorformat.ColorFormatYUV420Planar, format.ColorFormat)
}

func TestConfigureFormat(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor(),
		OptionBitrate{Bitrate: 1_000_000},
		OptionKeyFrameInterval{Interval: 0.5},
	)
	env.configure(t, CodecVP8, 6, 2)

	format := env.Factory.LastSession().Format(env.Ctx)
	require.Equal(t, codecsession.MIMETypeVP8, format.MIMEType)
	require.Equal(t, 8, format.Stride)
	require.Equal(t, 2, format.SliceHeight)
	require.Equal(t, uint64(1_000_000), format.Bitrate)
	require.Equal(t, float64(1), format.KeyFrameInterval)
	require.Equal(t, types.Rational{Num: 30, Den: 1}, format.FrameRate)

	desc := testDescriptor()
	desc.SupportsFloatKeyFrameInterval = true
	env = newTestEnv(t, fakesession.Params{}, desc, OptionKeyFrameInterval{Interval: 0.5})
	env.configure(t, CodecH264, 4, 4)
	require.Equal(t, 0.5, env.Factory.LastSession().Format(env.Ctx).KeyFrameInterval)
}

func TestConfigureUnsupported(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor())

	var configErr ErrConfiguration
	err := env.Encoder.Configure(env.Ctx, testInputState(CodecAV1, 4, 4))
	require.True(t, errors.As(err, &configErr), err)

	state := testInputState(CodecH264, 4, 4)
	state.PixelFormat = colorformat.PixelFormatYUY2
	err = env.Encoder.Configure(env.Ctx, state)
	require.True(t, errors.As(err, &configErr), err)

	env = newTestEnv(t, fakesession.Params{FailConfigure: errors.New("rejected")}, testDescriptor())
	err = env.Encoder.Configure(env.Ctx, testInputState(CodecH264, 4, 4))
	require.True(t, errors.As(err, &configErr), err)
	require.NotEqual(t, StateRunning, env.Encoder.State(env.Ctx))
}

func TestHandleInputNotStarted(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor())
	err := env.Encoder.HandleInput(env.Ctx, testInput(0, 1))
	require.ErrorIs(t, err, ErrNotStarted{})
	require.Zero(t, env.Factory.Counters.DequeueInput.Load())
}

func TestHandleInputWriteError(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor())
	env.configure(t, CodecH264, 4, 4)

	in := testInput(0, 1)
	in.Payload = in.Payload[:testFrameSize-1]
	err := env.Encoder.HandleInput(env.Ctx, in)
	var writeErr ErrWrite
	require.True(t, errors.As(err, &writeErr), err)

	require.Zero(t, env.Encoder.InFlight(env.Ctx))
	require.Equal(t, uint64(1), env.Factory.Counters.QueueInput.Load())
	require.Equal(t, uint64(1), env.Encoder.Stats().Aborted.Load())
	require.Zero(t, env.Factory.Counters.SlotViolations.Load())
	require.Empty(t, env.Listener.Fatals())
	frameErrors := env.Listener.FrameErrors()
	require.Len(t, frameErrors, 1)
	require.Equal(t, ErrorKindWrite, frameErrors[0].Kind)

	// the stream is still fine
	require.Equal(t, FlowStatusOK, env.Encoder.DownstreamStatus(env.Ctx))
	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(0, 1)))
}

func TestHandleInputQueueErrorIsFatal(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{FailQueue: errors.New("boom")}, testDescriptor())
	env.configure(t, CodecH264, 4, 4)

	err := env.Encoder.HandleInput(env.Ctx, testInput(0, 1))
	var queueErr ErrQueue
	require.True(t, errors.As(err, &queueErr), err)
	require.Equal(t, FlowStatusError, env.Encoder.DownstreamStatus(env.Ctx))
	require.Zero(t, env.Encoder.InFlight(env.Ctx))

	fatals := env.Listener.Fatals()
	require.Len(t, fatals, 1)
	require.Equal(t, ErrorKindQueue, fatals[0].Kind)
	require.Empty(t, env.Listener.FrameErrors())

	queued := env.Factory.Counters.QueueInput.Load()
	err = env.Encoder.HandleInput(env.Ctx, testInput(33*time.Millisecond, 2))
	require.Equal(t, ErrFlow{Status: FlowStatusError}, err)
	require.Equal(t, queued, env.Factory.Counters.QueueInput.Load())
	require.Equal(t, uint64(0), env.Encoder.Stats().Submitted.Load())
}

func TestHandleInputDequeueErrorIsFatal(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{FailDequeueInput: errors.New("boom")}, testDescriptor())
	env.configure(t, CodecH264, 4, 4)

	err := env.Encoder.HandleInput(env.Ctx, testInput(0, 1))
	var dequeueErr ErrDequeue
	require.True(t, errors.As(err, &dequeueErr), err)
	require.Equal(t, FlowStatusError, env.Encoder.DownstreamStatus(env.Ctx))

	fatals := env.Listener.Fatals()
	require.Len(t, fatals, 1)
	require.Equal(t, ErrorKindDequeue, fatals[0].Kind)

	err = env.Encoder.HandleInput(env.Ctx, testInput(33*time.Millisecond, 2))
	require.Equal(t, ErrFlow{Status: FlowStatusError}, err)
	require.Equal(t, uint64(1), env.Factory.Counters.DequeueInput.Load())
}

func TestHandleInputForceKeyFrame(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor())
	env.configure(t, CodecH264, 4, 4)

	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(0, 1)))
	in := testInput(33*time.Millisecond, 2)
	in.ForceKeyFrame = true
	require.NoError(t, env.Encoder.HandleInput(env.Ctx, in))
	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(66*time.Millisecond, 3)))
	require.NoError(t, env.Encoder.Drain(env.Ctx))

	require.Equal(t, uint64(1), env.Factory.Counters.RequestKeyFrame.Load())
	var syncFrames []bool
	for _, out := range env.Listener.Outputs() {
		syncFrames = append(syncFrames, out.Output.SyncFrame)
	}
	require.Equal(t, []bool{true, true, false}, syncFrames)
}

func TestDequeueOutputErrorIsFatal(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{FailDequeueOutput: errors.New("boom")}, testDescriptor())
	env.configure(t, CodecH264, 4, 4)

	require.Eventually(t, func() bool {
		return len(env.Listener.Fatals()) > 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, FlowStatusError, env.Encoder.DownstreamStatus(env.Ctx))

	fatals := env.Listener.Fatals()
	require.Len(t, fatals, 1)
	require.Equal(t, ErrorKindDequeue, fatals[0].Kind)
	var dequeueErr ErrDequeue
	require.True(t, errors.As(fatals[0].Err, &dequeueErr))

	err := env.Encoder.HandleInput(env.Ctx, testInput(0, 1))
	require.Equal(t, ErrFlow{Status: FlowStatusError}, err)
}

func TestRenegotiationFailureIsFatal(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor())
	env.Listener.RenegotiatedErr = errors.New("not accepted")
	env.configure(t, CodecH264, 4, 4)

	require.Eventually(t, func() bool {
		return len(env.Listener.Fatals()) > 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, ErrorKindNegotiation, env.Listener.Fatals()[0].Kind)
	require.Nil(t, env.Encoder.OutputDescription(env.Ctx))
}

func TestListenerEndOfStream(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor())
	env.Listener.FinishedOutputErr = ErrEndOfStream
	env.configure(t, CodecH264, 4, 4)

	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(0, 1)))
	require.Eventually(t, func() bool {
		return env.Encoder.DownstreamStatus(env.Ctx) == FlowStatusEOS
	}, 5*time.Second, 10*time.Millisecond)

	err := env.Encoder.HandleInput(env.Ctx, testInput(time.Second, 2))
	require.Equal(t, ErrFlow{Status: FlowStatusEOS}, err)
	require.Empty(t, env.Listener.Fatals())
}

func TestSessionErrorIsFatal(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor())
	env.configure(t, CodecH264, 4, 4)

	env.Factory.LastSession().FailAsync(env.Ctx, errors.New("codec died"))
	require.Eventually(t, func() bool {
		return len(env.Listener.Fatals()) > 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, FlowStatusError, env.Encoder.DownstreamStatus(env.Ctx))
	fatals := env.Listener.Fatals()
	require.Len(t, fatals, 1)
	require.Equal(t, ErrorKindSession, fatals[0].Kind)
}

// failWithHeldOutput submits one frame that the codec keeps for itself
// and then fails the session asynchronously.
func failWithHeldOutput(t *testing.T, opts ...Option) *testEnv {
	env := newTestEnv(t, fakesession.Params{HoldOutputs: 2}, testDescriptor(), opts...)
	env.configure(t, CodecH264, 4, 4)
	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(0, 1)))

	env.Factory.LastSession().FailAsync(env.Ctx, errors.New("codec died"))
	require.Eventually(t, func() bool {
		return len(env.Listener.Fatals()) > 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, FlowStatusError, env.Encoder.DownstreamStatus(env.Ctx))
	return env
}

func TestSessionErrorStopsOutputs(t *testing.T) {
	env := failWithHeldOutput(t)

	// the codec keeps running and releases both outputs
	session := env.Factory.LastSession()
	idx, err := session.DequeueInputSlot(env.Ctx, time.Second)
	require.NoError(t, err)
	buf, err := session.GetInputBuffer(env.Ctx, idx)
	require.NoError(t, err)
	copy(buf, bytes.Repeat([]byte{2}, testFrameSize))
	require.NoError(t, session.QueueInputSlot(env.Ctx, idx, codecsession.BufferInfo{
		Size:               testFrameSize,
		PresentationTimeUs: (33 * time.Millisecond).Microseconds(),
	}))

	require.Never(t, func() bool {
		return len(env.Listener.Outputs()) > 0
	}, 300*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, FlowStatusError, env.Encoder.DownstreamStatus(env.Ctx))
	require.Len(t, env.Listener.Fatals(), 1)

	err = env.Encoder.HandleInput(env.Ctx, testInput(66*time.Millisecond, 3))
	require.Equal(t, ErrFlow{Status: FlowStatusError}, err)
	require.Equal(t, uint64(1), env.Encoder.Stats().Submitted.Load())
}

func TestDrainAfterFatalErrorDoesNotWait(t *testing.T) {
	env := failWithHeldOutput(t, OptionDrainTimeout{Timeout: 10 * time.Second})
	queued := env.Factory.Counters.QueueInput.Load()

	startedAt := time.Now()
	err := env.Encoder.Drain(env.Ctx)
	require.Equal(t, ErrFlow{Status: FlowStatusError}, err)
	require.Less(t, time.Since(startedAt), time.Second)
	require.Equal(t, queued, env.Factory.Counters.QueueInput.Load())
	require.Zero(t, env.Encoder.Stats().Drains.Load())
}

func TestStreamHeadersInBytestream(t *testing.T) {
	header := []byte{0, 0, 0, 1, 0x67, 0x42}
	env := newTestEnv(t, fakesession.Params{CodecConfig: header}, testDescriptor())
	env.configure(t, CodecH264, 4, 4)

	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(0, 1)))
	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(33*time.Millisecond, 2)))
	require.NoError(t, env.Encoder.Drain(env.Ctx))

	outputs := env.Listener.Outputs()
	require.Len(t, outputs, 2)
	require.Equal(t, append(append([]byte{}, header...), bytes.Repeat([]byte{1}, testFrameSize)...), outputs[0].Output.Payload)
	require.Equal(t, bytes.Repeat([]byte{2}, testFrameSize), outputs[1].Output.Payload)
	require.Equal(t, uint64(1), env.Encoder.Stats().HeaderOutputs.Load())
}

func TestStreamHeadersAsCodecData(t *testing.T) {
	codecData := []byte{1, 2, 3}
	env := newTestEnv(t, fakesession.Params{CodecConfig: codecData}, testDescriptor())
	env.configure(t, CodecVP8, 4, 4)

	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(0, 1)))
	require.NoError(t, env.Encoder.Drain(env.Ctx))

	outputs := env.Listener.Outputs()
	require.Len(t, outputs, 1)
	require.Equal(t, bytes.Repeat([]byte{1}, testFrameSize), outputs[0].Output.Payload)

	desc := env.Encoder.OutputDescription(env.Ctx)
	require.NotNil(t, desc)
	require.False(t, desc.CodecDataInBytestream)
	require.Equal(t, [][]byte{codecData}, desc.CodecData)
	descs := env.Listener.Descriptions()
	require.Equal(t, [][]byte{codecData}, descs[len(descs)-1].CodecData)
}

func TestStaleFramesAreEvicted(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{
		HoldOutputs: 4,
		Permutation: []int{3, 0, 1, 2},
	}, testDescriptor(), OptionStaleThresholds{MaxDistanceTime: time.Hour, MaxDistanceFrames: 2})
	env.configure(t, CodecH264, 4, 4)

	for i := 0; i < 4; i++ {
		require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(time.Duration(i)*time.Second, byte(i+1))))
	}
	require.NoError(t, env.Encoder.Drain(env.Ctx))

	outputs := env.Listener.Outputs()
	require.Len(t, outputs, 5)
	require.True(t, outputs[0].Output.Dropped)
	require.Equal(t, uint64(0), outputs[0].Frame.SequenceNumber)
	require.Equal(t, uint64(3), outputs[1].Frame.SequenceNumber)
	require.Equal(t, uint64(1), env.Encoder.Stats().Evicted.Load())
	require.Equal(t, uint64(1), env.Encoder.Stats().Unmatched.Load())
	require.Nil(t, outputs[4].Frame)
}

func TestProperties(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor())

	require.NoError(t, env.Encoder.SetBitrate(env.Ctx, 500_000))
	require.Equal(t, uint64(500_000), env.Encoder.Bitrate(env.Ctx))
	require.Zero(t, env.Factory.Counters.SetDynamicBitrate.Load())
	require.NoError(t, env.Encoder.SetKeyFrameInterval(env.Ctx, 2))

	env.configure(t, CodecH264, 4, 4)
	require.Equal(t, uint64(500_000), env.Factory.LastSession().Format(env.Ctx).Bitrate)

	var invalidState ErrInvalidState
	err := env.Encoder.SetBitrate(env.Ctx, 700_000)
	require.True(t, errors.As(err, &invalidState), err)

	err = env.Encoder.SetKeyFrameInterval(env.Ctx, 5)
	require.True(t, errors.As(err, &invalidState), err)
	require.Equal(t, float64(2), env.Encoder.KeyFrameInterval(env.Ctx))

	env = newTestEnv(t, fakesession.Params{SupportsDynamicBitrate: true}, testDescriptor())
	env.configure(t, CodecH264, 4, 4)
	require.NoError(t, env.Encoder.SetBitrate(env.Ctx, 700_000))
	require.Equal(t, uint64(700_000), env.Factory.LastSession().Bitrate(env.Ctx))
}

func TestOpenFailure(t *testing.T) {
	ctx := testCtx(t)
	factory := fakesession.NewFactory(fakesession.Params{})
	factory.FailNew = errors.New("no codec")
	enc := New(factory, testDescriptor(), &testListener{})

	err := enc.Open(ctx)
	var resourceErr ErrResource
	require.True(t, errors.As(err, &resourceErr), err)
	require.Equal(t, StateClosed, enc.State(ctx))
}

func TestStopAndCloseAreIdempotent(t *testing.T) {
	env := newTestEnv(t, fakesession.Params{}, testDescriptor())
	env.configure(t, CodecH264, 4, 4)
	require.NoError(t, env.Encoder.HandleInput(env.Ctx, testInput(0, 1)))

	require.NoError(t, env.Encoder.Stop(env.Ctx))
	require.NoError(t, env.Encoder.Stop(env.Ctx))
	require.Equal(t, StateStopped, env.Encoder.State(env.Ctx))
	require.Equal(t, uint64(1), env.Factory.Counters.Stop.Load())

	require.NoError(t, env.Encoder.Close(env.Ctx))
	require.NoError(t, env.Encoder.Close(env.Ctx))
	require.Equal(t, StateClosed, env.Encoder.State(env.Ctx))
	require.Equal(t, uint64(1), env.Factory.Counters.Release.Load())

	err := env.Encoder.HandleInput(env.Ctx, testInput(0, 1))
	require.ErrorIs(t, err, ErrNotStarted{})
	require.Zero(t, env.Factory.Counters.SlotViolations.Load())
}
