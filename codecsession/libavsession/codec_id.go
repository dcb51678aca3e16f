package libavsession

import (
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/colorformat"
)

var mimeTypes = []struct {
	MIMEType string
	CodecID  astiav.CodecID
}{
	{codecsession.MIMETypeH264, astiav.CodecIDH264},
	{codecsession.MIMETypeH265, astiav.CodecIDHevc},
	{codecsession.MIMETypeVP8, astiav.CodecIDVp8},
	{codecsession.MIMETypeVP9, astiav.CodecIDVp9},
	{codecsession.MIMETypeAV1, astiav.CodecIDAv1},
	{codecsession.MIMETypeMPEG4, astiav.CodecIDMpeg4},
	{codecsession.MIMETypeMPEG2, astiav.CodecIDMpeg2Video},
	{codecsession.MIMETypeH263, astiav.CodecIDH263},
}

func codecIDFromMIMEType(mimeType string) astiav.CodecID {
	for _, item := range mimeTypes {
		if item.MIMEType == mimeType {
			return item.CodecID
		}
	}
	return astiav.CodecIDNone
}

func mimeTypeFromCodecID(codecID astiav.CodecID) string {
	for _, item := range mimeTypes {
		if item.CodecID == codecID {
			return item.MIMEType
		}
	}
	return ""
}

func pixelFormatFromColorFormat(cf colorformat.ColorFormat) astiav.PixelFormat {
	switch cf {
	case colorformat.ColorFormatYUV420Planar, colorformat.ColorFormatYUV420Flexible:
		return astiav.PixelFormatYuv420P
	case colorformat.ColorFormatYUV420SemiPlanar:
		return astiav.PixelFormatNv12
	default:
		return astiav.PixelFormatNone
	}
}

func colorFormatsFromPixelFormats(pixFmts []astiav.PixelFormat) []colorformat.ColorFormat {
	var result []colorformat.ColorFormat
	for _, pixFmt := range pixFmts {
		switch pixFmt {
		case astiav.PixelFormatYuv420P:
			result = append(result, colorformat.ColorFormatYUV420Planar)
		case astiav.PixelFormatNv12:
			result = append(result, colorformat.ColorFormatYUV420SemiPlanar)
		}
	}
	return result
}

var hardwareSuffixes = []string{
	"_mediacodec",
	"_nvenc",
	"_vaapi",
	"_qsv",
	"_videotoolbox",
	"_v4l2m2m",
	"_amf",
}

func isHardwareCodecName(name string) bool {
	for _, suffix := range hardwareSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
