package videoenc

import (
	"fmt"
	"time"

	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/colorformat"
	"github.com/xaionaro-go/codecdriver/types"
	"github.com/xaionaro-go/typing"
)

// Codec is the kind of the stream to produce.
type Codec string

const (
	CodecH264  = Codec("h264")
	CodecH265  = Codec("h265")
	CodecVP8   = Codec("vp8")
	CodecVP9   = Codec("vp9")
	CodecAV1   = Codec("av1")
	CodecMPEG4 = Codec("mpeg4")
	CodecMPEG2 = Codec("mpeg2")
	CodecH263  = Codec("h263")
)

func (c Codec) MIMEType() (string, error) {
	switch c {
	case CodecH264:
		return codecsession.MIMETypeH264, nil
	case CodecH265:
		return codecsession.MIMETypeH265, nil
	case CodecVP8:
		return codecsession.MIMETypeVP8, nil
	case CodecVP9:
		return codecsession.MIMETypeVP9, nil
	case CodecAV1:
		return codecsession.MIMETypeAV1, nil
	case CodecMPEG4:
		return codecsession.MIMETypeMPEG4, nil
	case CodecMPEG2:
		return codecsession.MIMETypeMPEG2, nil
	case CodecH263:
		return codecsession.MIMETypeH263, nil
	default:
		return "", fmt.Errorf("unsupported codec '%s'", string(c))
	}
}

// InputState describes the raw stream fed into the encoder and the
// stream expected out of it.
type InputState struct {
	Codec       Codec
	Resolution  types.Resolution
	PixelFormat colorformat.PixelFormat
	FrameRate   types.Rational
}

func (s InputState) String() string {
	return fmt.Sprintf("%s %s %s@%s", s.Codec, s.PixelFormat, s.Resolution, s.FrameRate)
}

// Input is one raw frame. Payload is tightly packed in InputState.PixelFormat
// and may be reused by the caller once HandleInput returns.
type Input struct {
	PTS           typing.Optional[time.Duration]
	Duration      typing.Optional[time.Duration]
	Payload       []byte
	ForceKeyFrame bool
	SyncPoint     bool
}
