package videoenc

import (
	"context"

	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/types"
)

func (e *Encoder) outputDescriptionFromFormat(
	ctx context.Context,
	format *codecsession.Format,
) OutputDescription {
	var desc OutputDescription
	if format != nil {
		desc.MIMEType = format.MIMEType
		desc.Resolution = types.Resolution{Width: uint32(format.Width), Height: uint32(format.Height)}
		desc.FrameRate = format.FrameRate
		desc.Bitrate = format.Bitrate
		for _, d := range format.CodecData {
			desc.CodecData = append(desc.CodecData, append([]byte(nil), d...))
		}
	}

	// the codec is restarted on any change of the resolution, so the
	// input state always matches the output
	if e.inputState != nil {
		if mimeType, err := e.inputState.Codec.MIMEType(); err == nil && desc.MIMEType == "" {
			desc.MIMEType = mimeType
		}
		desc.Resolution = e.inputState.Resolution
		desc.FrameRate = e.inputState.FrameRate
	}
	if desc.Bitrate == 0 {
		desc.Bitrate = e.config.Bitrate
	}

	switch desc.MIMEType {
	case codecsession.MIMETypeH264, codecsession.MIMETypeH265:
		desc.CodecDataInBytestream = true
	}
	return desc
}

func (e *Encoder) negotiateLocked(
	ctx context.Context,
	format *codecsession.Format,
) error {
	desc := e.outputDescriptionFromFormat(ctx, format)
	if err := e.renegotiateLocked(ctx, desc); err != nil {
		return err
	}
	e.pendingFormat = nil
	e.stats.FormatChanges.Inc()
	return nil
}

func (e *Encoder) renegotiateLocked(
	ctx context.Context,
	desc OutputDescription,
) error {
	var err error
	e.locker.UDo(ctx, func() {
		err = e.Listener.Renegotiated(ctx, desc)
	})
	if err != nil {
		return err
	}
	e.outputDescription = &desc
	return nil
}
