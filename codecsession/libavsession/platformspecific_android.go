//go:build android
// +build android

package libavsession

import (
	"context"
	"encoding/json"

	"github.com/xaionaro-go/androidetc"
	"github.com/xaionaro-go/codecdriver/logger"
	"github.com/xaionaro-go/xsync"
)

var (
	mediaCodecsInfoLocker xsync.Mutex
	mediaCodecsInfo       androidetc.MediaCodecsDescriptors
)

// platformHasHardwareCodec tells whether the device declares a hardware
// encoder for the MIME type in its media_codecs*.xml.
func platformHasHardwareCodec(
	ctx context.Context,
	mimeType string,
) bool {
	return xsync.DoR1(ctx, &mediaCodecsInfoLocker, func() bool {
		if mediaCodecsInfo == nil {
			var err error
			mediaCodecsInfo, err = androidetc.ParseMediaCodecs()
			if err != nil {
				logger.Warnf(ctx, "failed to parse media codecs info: %v", err)
				return false
			}
		}

		for _, codecInfo := range mediaCodecsInfo {
			for _, codec := range codecInfo.Encoders {
				isFitting := codec.Type == mimeType
				for _, typ := range codec.Types {
					if typ.Name == mimeType {
						isFitting = true
						break
					}
				}
				if !isFitting || !codec.IsHardware() {
					continue
				}
				b, _ := json.Marshal(codec)
				logger.Tracef(ctx, "found fitting hardware codec: %s", string(b))
				return true
			}
		}

		logger.Warnf(ctx, "no fitting hardware encoder found for '%s'", mimeType)
		return false
	})
}
