// Package videoenc drives an asynchronous slot-based codec session as a
// video encoder: raw frames are submitted from the caller goroutine, while
// a collect loop goroutine pulls encoded outputs, matches them with the
// submitted frames and passes them to a Listener.
package videoenc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/colorformat"
	"github.com/xaionaro-go/codecdriver/frametable"
	"github.com/xaionaro-go/codecdriver/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xsync"
)

type Encoder struct {
	Factory    codecsession.Factory
	Descriptor codecsession.Descriptor
	Listener   Listener

	locker            xsync.Mutex
	config            config
	session           codecsession.Session
	state             State
	started           bool
	flushing          bool
	draining          bool
	drained           bool
	drainTimedOut     bool
	drainResult       error
	lastSubmittedTS   time.Duration
	downstreamStatus  FlowStatus
	inputState        *InputState
	colorInfo         *colorformat.Info
	pendingFormat     *codecsession.Format
	outputDescription *OutputDescription
	headers           [][]byte
	frames            *frametable.Table
	loop              *collectLoop
	changeChanDrained *chan struct{}
	stats             Stats
}

func New(
	factory codecsession.Factory,
	desc codecsession.Descriptor,
	listener Listener,
	opts ...Option,
) *Encoder {
	cfg := Options(opts).config()
	e := &Encoder{
		Factory:           factory,
		Descriptor:        desc,
		Listener:          listener,
		config:            cfg,
		state:             StateClosed,
		flushing:          true,
		drained:           true,
		frames:            frametable.New(),
		changeChanDrained: ptr(make(chan struct{})),
	}
	if cfg.MaxDistanceTime > 0 {
		e.frames.MaxDistanceTime = cfg.MaxDistanceTime
	}
	if cfg.MaxDistanceFrames > 0 {
		e.frames.MaxDistanceFrames = cfg.MaxDistanceFrames
	}
	return e
}

func (e *Encoder) String() string {
	return fmt.Sprintf("VideoEncoder(%s)", e.Descriptor.Name)
}

func (e *Encoder) State(ctx context.Context) State {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &e.locker, func() State {
		return e.state
	})
}

func (e *Encoder) DownstreamStatus(ctx context.Context) FlowStatus {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &e.locker, func() FlowStatus {
		return e.downstreamStatus
	})
}

func (e *Encoder) OutputDescription(ctx context.Context) *OutputDescription {
	return xsync.DoR1(ctx, &e.locker, func() *OutputDescription {
		if e.outputDescription == nil {
			return nil
		}
		desc := *e.outputDescription
		return &desc
	})
}

// InFlight returns the amount of submitted frames still waiting for an output.
func (e *Encoder) InFlight(ctx context.Context) int {
	return xsync.DoR1(ctx, &e.locker, e.frames.Len)
}

func (e *Encoder) Stats() *Stats {
	return &e.stats
}

// Open acquires a codec session.
func (e *Encoder) Open(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Open")
	defer func() { logger.Tracef(ctx, "/Open: %v", _err) }()
	return xsync.DoA1R1(ctx, &e.locker, e.openLocked, ctx)
}

func (e *Encoder) openLocked(ctx context.Context) (_err error) {
	if e.session != nil {
		return nil
	}
	ctx = belt.WithField(ctx, "codec", e.Descriptor.Name)
	session, err := e.Factory.NewSession(ctx, e.Descriptor, sessionListener{Encoder: e})
	if err != nil {
		var resourceErr ErrResource
		if !errors.As(err, &resourceErr) {
			err = ErrResource{Err: err}
		}
		return err
	}
	e.session = session
	e.started = false
	e.flushing = true
	e.state = StateOpened
	return nil
}

// Start resets the stream state; the codec itself is started by Configure.
func (e *Encoder) Start(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Start")
	defer func() { logger.Tracef(ctx, "/Start: %v", _err) }()
	return xsync.DoA1R1(ctx, &e.locker, e.startLocked, ctx)
}

func (e *Encoder) startLocked(ctx context.Context) error {
	if e.session == nil {
		return ErrInvalidState{Err: fmt.Errorf("the encoder is not opened")}
	}
	e.lastSubmittedTS = 0
	e.drained = true
	e.downstreamStatus = FlowStatusOK
	e.started = false
	e.flushing = true
	return nil
}

// Stop stops the codec and the collect loop. It is safe to call it
// multiple times.
func (e *Encoder) Stop(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Stop")
	defer func() { logger.Tracef(ctx, "/Stop: %v", _err) }()
	return xsync.DoA1R1(ctx, &e.locker, e.stopLocked, ctx)
}

func (e *Encoder) stopLocked(ctx context.Context) error {
	e.flushing = true
	if e.started {
		session := e.session
		if err := session.Flush(ctx); err != nil {
			logger.Warnf(ctx, "unable to flush the codec: %v", err)
		}
		if err := session.Stop(ctx); err != nil {
			logger.Warnf(ctx, "unable to stop the codec: %v", err)
		}
		e.started = false
	}
	e.wakeDrainersLocked(ctx, ErrFlushing{})
	e.stopCollectLoopLocked(ctx)

	e.downstreamStatus = FlowStatusFlushing
	e.drained = true
	e.drainTimedOut = false
	e.inputState = nil
	e.pendingFormat = nil
	e.headers = nil
	e.abortInFlightLocked(ctx)
	if e.session != nil {
		e.state = StateStopped
	}
	return nil
}

// Close stops everything and releases the codec session. It is safe to
// call it multiple times.
func (e *Encoder) Close(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Close")
	defer func() { logger.Tracef(ctx, "/Close: %v", _err) }()
	return xsync.DoA1R1(ctx, &e.locker, e.closeLocked, ctx)
}

func (e *Encoder) closeLocked(ctx context.Context) error {
	if e.session == nil {
		e.state = StateClosed
		return nil
	}
	var errs []error
	if err := e.stopLocked(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to stop: %w", err))
	}
	belt.Flush(ctx)
	if err := e.session.Release(ctx); err != nil {
		logger.Warnf(ctx, "unable to release the codec: %v", err)
	}
	e.session = nil
	e.started = false
	e.flushing = true
	e.colorInfo = nil
	e.outputDescription = nil
	e.state = StateClosed
	return errors.Join(errs...)
}

func (e *Encoder) abortInFlightLocked(ctx context.Context) {
	frames := e.frames.Clear()
	if len(frames) == 0 {
		return
	}
	logger.Debugf(ctx, "dropping %d frames in flight", len(frames))
	e.stats.Aborted.Add(uint64(len(frames)))
}

func (e *Encoder) resetChangeChanDrainedNow() {
	close(*xatomic.SwapPointer(&e.changeChanDrained, ptr(make(chan struct{}))))
}

func (e *Encoder) getChangeChanDrained() <-chan struct{} {
	return *xatomic.LoadPointer(&e.changeChanDrained)
}

// wakeDrainersLocked releases a goroutine blocked in Drain, telling it
// the result of the drain.
func (e *Encoder) wakeDrainersLocked(ctx context.Context, result error) {
	if e.draining {
		logger.Debugf(ctx, "waking up the drainer: %v", result)
		e.draining = false
		e.drainResult = result
	}
	e.resetChangeChanDrainedNow()
}

// fatalLocked moves the stream into the error state and reports it.
func (e *Encoder) fatalLocked(
	ctx context.Context,
	kind ErrorKind,
	err error,
) {
	logger.Errorf(ctx, "fatal %s error: %v", kind, err)
	e.downstreamStatus = FlowStatusError
	e.wakeDrainersLocked(ctx, ErrFlow{Status: FlowStatusError})
	e.locker.UDo(ctx, func() {
		e.Listener.FatalError(ctx, kind, err)
	})
}

// frameErrorLocked reports an input frame that was dropped; the stream
// goes on.
func (e *Encoder) frameErrorLocked(
	ctx context.Context,
	kind ErrorKind,
	err error,
) {
	logger.Warnf(ctx, "dropped an input frame: %s error: %v", kind, err)
	e.locker.UDo(ctx, func() {
		e.Listener.FrameError(ctx, kind, err)
	})
}

// reportLocked reports a failure of a single call, which does not change
// the state of the stream.
func (e *Encoder) reportLocked(
	ctx context.Context,
	kind ErrorKind,
	err error,
) {
	logger.Errorf(ctx, "%s error: %v", kind, err)
	e.locker.UDo(ctx, func() {
		e.Listener.FatalError(ctx, kind, err)
	})
}

type sessionListener struct {
	*Encoder
}

var _ codecsession.Listener = sessionListener{}

// OnSessionError may be called from within a session call, so the
// encoder is locked from another goroutine.
func (l sessionListener) OnSessionError(ctx context.Context, err error) {
	observability.Go(ctx, func(ctx context.Context) {
		l.Encoder.locker.Do(ctx, func() {
			if l.Encoder.flushing {
				logger.Debugf(ctx, "ignoring a session error while flushing: %v", err)
				return
			}
			l.Encoder.fatalLocked(ctx, ErrorKindSession, err)
		})
	})
}

func ptr[T any](in T) *T {
	return &in
}
