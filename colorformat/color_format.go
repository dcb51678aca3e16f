// Package colorformat maps raw video pixel formats to codec color formats
// and copies raw frames into codec input slots with the codec's stride and
// slice-height layout. Vendor-specific tiled layouts are not supported.
package colorformat

import (
	"fmt"
)

// ColorFormat is a codec-side color format id (MediaCodecInfo.CodecCapabilities).
type ColorFormat int32

const (
	ColorFormatUndefined        ColorFormat = 0
	ColorFormatYUV420Planar     ColorFormat = 19
	ColorFormatYUV420SemiPlanar ColorFormat = 21
	ColorFormatYCbYCr           ColorFormat = 25
	ColorFormatAndroidOpaque    ColorFormat = 0x7F000789
	ColorFormatYUV420Flexible   ColorFormat = 0x7F420888
	ColorFormatYV12             ColorFormat = 0x32315659
)

func (cf ColorFormat) String() string {
	switch cf {
	case ColorFormatUndefined:
		return "undefined"
	case ColorFormatYUV420Planar:
		return "YUV420Planar"
	case ColorFormatYUV420SemiPlanar:
		return "YUV420SemiPlanar"
	case ColorFormatYCbYCr:
		return "YCbYCr"
	case ColorFormatAndroidOpaque:
		return "AndroidOpaque"
	case ColorFormatYUV420Flexible:
		return "YUV420Flexible"
	case ColorFormatYV12:
		return "YV12"
	default:
		return fmt.Sprintf("ColorFormat(0x%x)", int32(cf))
	}
}

// PixelFormat is the layout of raw frames supplied by the caller.
type PixelFormat int

const (
	PixelFormatUndefined PixelFormat = iota
	PixelFormatI420
	PixelFormatNV12
	PixelFormatNV21
	PixelFormatYV12
	PixelFormatYUY2
	endOfPixelFormat
)

func (pf PixelFormat) String() string {
	switch pf {
	case PixelFormatUndefined:
		return "undefined"
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatNV21:
		return "NV21"
	case PixelFormatYV12:
		return "YV12"
	case PixelFormatYUY2:
		return "YUY2"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(pf))
	}
}

var mappingTable = []struct {
	ColorFormat ColorFormat
	PixelFormat PixelFormat
}{
	{ColorFormatYUV420Planar, PixelFormatI420},
	{ColorFormatYUV420Flexible, PixelFormatI420},
	{ColorFormatYUV420SemiPlanar, PixelFormatNV12},
	{ColorFormatYCbYCr, PixelFormatYUY2},
	{ColorFormatYV12, PixelFormatYV12},
}

// ToPixelFormat returns the raw layout corresponding to a codec color format.
func ToPixelFormat(cf ColorFormat) (PixelFormat, bool) {
	for _, item := range mappingTable {
		if item.ColorFormat == cf {
			return item.PixelFormat, true
		}
	}
	return PixelFormatUndefined, false
}

// FromPixelFormat picks the first color format from the supported list
// (in the order advertised by the codec) that carries the given pixel format.
func FromPixelFormat(
	supported []ColorFormat,
	pf PixelFormat,
) (ColorFormat, bool) {
	for _, cf := range supported {
		if cf == ColorFormatAndroidOpaque {
			continue
		}
		if v, ok := ToPixelFormat(cf); ok && v == pf {
			return cf, true
		}
	}
	return ColorFormatUndefined, false
}
