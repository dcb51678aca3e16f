package videoenc

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/colorformat"
	"github.com/xaionaro-go/codecdriver/logger"
	"github.com/xaionaro-go/xsync"
)

// Configure (re)configures the codec for the given input. A change of the
// resolution while running drains and restarts the codec; any other
// change is just remembered.
func (e *Encoder) Configure(
	ctx context.Context,
	state InputState,
) (_err error) {
	logger.Tracef(ctx, "Configure(%s)", state)
	defer func() { logger.Tracef(ctx, "/Configure(%s): %v", state, _err) }()
	return xsync.DoA2R1(ctx, &e.locker, e.configureLocked, ctx, state)
}

func (e *Encoder) configureLocked(
	ctx context.Context,
	state InputState,
) error {
	if e.session == nil {
		return ErrInvalidState{Err: fmt.Errorf("the encoder is not opened")}
	}

	isFormatChange := e.colorInfo == nil ||
		e.colorInfo.Width != int(state.Resolution.Width) ||
		e.colorInfo.Height != int(state.Resolution.Height)
	needsDisable := e.started

	if needsDisable && !isFormatChange {
		logger.Debugf(ctx, "already running and the format did not change")
		e.inputState = &state
		return nil
	}

	if needsDisable && isFormatChange {
		logger.Debugf(ctx, "the resolution changed, restarting the codec")
		if err := e.drainLocked(ctx); err != nil {
			logger.Warnf(ctx, "unable to drain the codec before restarting it: %v", err)
		}
		if err := e.stopLocked(ctx); err != nil {
			logger.Warnf(ctx, "unable to stop the codec: %v", err)
		}
		if err := e.closeLocked(ctx); err != nil {
			logger.Warnf(ctx, "unable to close the codec: %v", err)
		}
		if err := e.openLocked(ctx); err != nil {
			return fmt.Errorf("unable to open the codec again: %w", err)
		}
		if err := e.startLocked(ctx); err != nil {
			logger.Errorf(ctx, "unable to start the codec again: %v", err)
		}
	}
	e.inputState = nil

	format, colorInfo, err := e.buildFormatLocked(state)
	if err != nil {
		return ErrConfiguration{Err: err}
	}
	logger.Debugf(ctx, "configuring the codec with format: %s", format)

	session := e.session
	if err := session.Configure(ctx, format); err != nil {
		var configErr ErrConfiguration
		if !errors.As(err, &configErr) {
			err = ErrConfiguration{Err: err}
		}
		e.reportLocked(ctx, ErrorKindConfiguration, err)
		return err
	}
	e.state = StateConfigured

	if err := session.Start(ctx); err != nil {
		err = ErrConfiguration{Err: fmt.Errorf("unable to start the codec: %w", err)}
		e.reportLocked(ctx, ErrorKindConfiguration, err)
		return err
	}

	e.colorInfo = colorInfo
	e.pendingFormat = format
	e.inputState = &state
	e.started = true
	e.flushing = false
	e.downstreamStatus = FlowStatusOK
	e.state = StateRunning
	e.startCollectLoopLocked(ctx)
	return nil
}

func (e *Encoder) buildFormatLocked(
	state InputState,
) (*codecsession.Format, *colorformat.Info, error) {
	mimeType, err := state.Codec.MIMEType()
	if err != nil {
		return nil, nil, err
	}
	if len(e.Descriptor.MIMETypes) > 0 && !e.Descriptor.SupportsMIMEType(mimeType) {
		return nil, nil, fmt.Errorf("codec '%s' does not support '%s'", e.Descriptor.Name, mimeType)
	}

	colorFormat, ok := colorformat.FromPixelFormat(e.Descriptor.ColorFormats, state.PixelFormat)
	if !ok {
		return nil, nil, fmt.Errorf("codec '%s' does not support pixel format %s (supported: %v)", e.Descriptor.Name, state.PixelFormat, e.Descriptor.ColorFormats)
	}

	width, height := int(state.Resolution.Width), int(state.Resolution.Height)
	stride := (width + 3) &^ 3
	sliceHeight := height
	colorInfo, err := colorformat.NewInfo(colorFormat, width, height, stride, sliceHeight)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to compute the frame layout: %w", err)
	}

	format := &codecsession.Format{
		MIMEType:                mimeType,
		Width:                   width,
		Height:                  height,
		Bitrate:                 e.config.Bitrate,
		ColorFormat:             colorFormat,
		Stride:                  stride,
		SliceHeight:             sliceHeight,
		FrameRate:               state.FrameRate,
		KeyFrameInterval:        e.config.KeyFrameInterval,
		KeyFrameIntervalIsFloat: e.Descriptor.SupportsFloatKeyFrameInterval,
	}
	if !format.KeyFrameIntervalIsFloat {
		format.KeyFrameInterval = float64(format.KeyFrameIntervalInt())
	}
	return format, colorInfo, nil
}
