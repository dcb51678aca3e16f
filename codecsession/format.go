package codecsession

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/xaionaro-go/codecdriver/colorformat"
	"github.com/xaionaro-go/codecdriver/types"
)

const (
	MIMETypeH264  = "video/avc"
	MIMETypeH265  = "video/hevc"
	MIMETypeVP8   = "video/x-vnd.on2.vp8"
	MIMETypeVP9   = "video/x-vnd.on2.vp9"
	MIMETypeAV1   = "video/av01"
	MIMETypeMPEG4 = "video/mp4v-es"
	MIMETypeMPEG2 = "video/mpeg2"
	MIMETypeH263  = "video/3gpp"
)

// Format is a key/value-less rendering of a MediaFormat: what an encoder
// is configured with, or what it reports on its output.
type Format struct {
	MIMEType    string
	Width       int
	Height      int
	Bitrate     uint64
	ColorFormat colorformat.ColorFormat
	Stride      int
	SliceHeight int
	FrameRate   types.Rational

	// KeyFrameInterval is in seconds. KeyFrameIntervalIsFloat tells whether
	// it may be passed to the codec as is, otherwise it is rounded.
	KeyFrameInterval        float64
	KeyFrameIntervalIsFloat bool

	// CodecData holds out-of-band stream headers (output formats only).
	CodecData [][]byte
}

func (f *Format) Clone() *Format {
	if f == nil {
		return nil
	}
	cpy := *f
	cpy.CodecData = make([][]byte, 0, len(f.CodecData))
	for _, b := range f.CodecData {
		cpy.CodecData = append(cpy.CodecData, append([]byte(nil), b...))
	}
	return &cpy
}

// KeyFrameIntervalInt is the integer rendering of KeyFrameInterval for
// codecs not accepting fractions: the fraction is truncated, except that
// anything in (0;1) becomes 1.
func (f *Format) KeyFrameIntervalInt() int {
	v := f.KeyFrameInterval
	if v > 0 && v < 1 {
		return 1
	}
	return int(v)
}

func (f *Format) String() string {
	if f == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %dx%d", f.MIMEType, f.Width, f.Height)
	if f.Bitrate != 0 {
		fmt.Fprintf(&b, " %sbps", humanize.SI(float64(f.Bitrate), ""))
	}
	if f.ColorFormat != colorformat.ColorFormatUndefined {
		fmt.Fprintf(&b, " color:%s", f.ColorFormat)
	}
	if f.Stride != 0 || f.SliceHeight != 0 {
		fmt.Fprintf(&b, " stride:%d slice:%d", f.Stride, f.SliceHeight)
	}
	if !f.FrameRate.IsZero() {
		fmt.Fprintf(&b, " fps:%s", f.FrameRate)
	}
	if f.KeyFrameInterval != 0 {
		fmt.Fprintf(&b, " gop:%vs", f.KeyFrameInterval)
	}
	for _, d := range f.CodecData {
		fmt.Fprintf(&b, " codec-data:%s", humanize.Bytes(uint64(len(d))))
	}
	return b.String()
}
