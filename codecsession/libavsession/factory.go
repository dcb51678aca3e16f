package libavsession

import (
	"context"
	"fmt"
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/logger"
	"github.com/xaionaro-go/codecdriver/types"
)

// Factory opens libav encoders by their name (e.g. "libx264",
// "h264_mediacodec"). Options are passed to the encoder as AVOptions.
type Factory struct {
	InputSlots int
	Options    map[string]string

	// TimeBase of the encoder, microseconds if not set. Some encoders
	// (e.g. mpeg4) do not accept large denominators.
	TimeBase types.Rational
}

var _ codecsession.Factory = (*Factory)(nil)

func NewFactory() *Factory {
	return &Factory{
		InputSlots: DefaultInputSlots,
	}
}

func (f *Factory) NewSession(
	ctx context.Context,
	desc codecsession.Descriptor,
	listener codecsession.Listener,
) (_ codecsession.Session, _err error) {
	logger.Tracef(ctx, "NewSession(%s)", desc.Name)
	defer func() { logger.Tracef(ctx, "/NewSession(%s): %v", desc.Name, _err) }()

	codec := findEncoder(ctx, desc)
	if codec == nil {
		return nil, codecsession.ErrResource{Err: fmt.Errorf("unable to find an encoder '%s' for %v", desc.Name, desc.MIMETypes)}
	}
	s := newSession(ctx, codec, f.InputSlots, f.Options, listener)
	if !f.TimeBase.IsZero() {
		s.TimeBase = f.TimeBase
	}
	return s, nil
}

func findEncoder(
	ctx context.Context,
	desc codecsession.Descriptor,
) *astiav.Codec {
	if desc.Name != "" {
		if codec := astiav.FindEncoderByName(desc.Name); codec != nil {
			return codec
		}
		logger.Debugf(ctx, "encoder '%s' is not found, looking up by the MIME type", desc.Name)
	}
	for _, mimeType := range desc.MIMETypes {
		codecID := codecIDFromMIMEType(mimeType)
		if codecID == astiav.CodecIDNone {
			continue
		}
		if codec := astiav.FindEncoder(codecID); codec != nil {
			return codec
		}
	}
	return nil
}

// Describe builds the descriptor of a libav encoder.
func Describe(
	ctx context.Context,
	name string,
) (codecsession.Descriptor, error) {
	codec := astiav.FindEncoderByName(name)
	if codec == nil {
		return codecsession.Descriptor{}, fmt.Errorf("encoder '%s' not found", name)
	}
	mimeType := mimeTypeFromCodecID(codec.ID())
	if mimeType == "" {
		return codecsession.Descriptor{}, fmt.Errorf("encoder '%s' produces %s, which is not supported", name, codec.ID())
	}
	desc := codecsession.Descriptor{
		Name:         codec.Name(),
		MIMETypes:    []string{mimeType},
		ColorFormats: colorFormatsFromPixelFormats(codec.PixelFormats()),
		IsHardware:   isHardwareCodecName(codec.Name()),
	}
	if strings.HasSuffix(codec.Name(), "_mediacodec") {
		desc.SupportsDynamicBitrate = dynamicBitrateSupported
		desc.IsHardware = platformHasHardwareCodec(ctx, mimeType)
	}
	if len(desc.ColorFormats) == 0 {
		logger.Warnf(ctx, "encoder '%s' does not declare any supported raw layout, assuming %s", name, astiav.PixelFormatYuv420P)
		desc.ColorFormats = colorFormatsFromPixelFormats([]astiav.PixelFormat{astiav.PixelFormatYuv420P})
	}
	return desc, nil
}
