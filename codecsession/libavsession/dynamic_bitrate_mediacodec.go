//go:build mediacodec
// +build mediacodec

package libavsession

import (
	"context"
	"fmt"
	"strings"

	"github.com/asticode/go-astiav"
	xastiav "github.com/xaionaro-go/avcommon/astiav"
	"github.com/xaionaro-go/avmediacodec"
	"github.com/xaionaro-go/codecdriver/logger"
)

const (
	dynamicBitrateSupported = true

	mediaCodecParameterKeyVideoBitrate = "video-bitrate"
)

func setDynamicBitrate(
	ctx context.Context,
	codec *astiav.Codec,
	codecContext *astiav.CodecContext,
	bitrate uint64,
) error {
	if !strings.HasSuffix(codec.Name(), "_mediacodec") {
		return fmt.Errorf("encoder '%s' does not support changing the bitrate on the fly", codec.Name())
	}
	if err := mediaCodecSetInt32(ctx, codecContext, mediaCodecParameterKeyVideoBitrate, int32(bitrate)); err != nil {
		return fmt.Errorf("unable to set %s: %w", mediaCodecParameterKeyVideoBitrate, err)
	}
	codecContext.SetBitRate(int64(bitrate))
	return nil
}

func mediaCodecSetInt32(
	ctx context.Context,
	codecContext *astiav.CodecContext,
	key string,
	value int32,
) error {
	mediaCodec := avmediacodec.WrapAVCodecContext(
		xastiav.CFromAVCodecContext(codecContext),
	).PrivData().Codec()

	mediaCodecFmt := mediaCodec.Format()
	mediaCodecFmt.SetInt32(key, value)
	result, err := mediaCodecFmt.GetInt32(key)
	if err != nil {
		return fmt.Errorf("unable to get the current value of '%s': %w", key, err)
	}
	logger.Tracef(ctx, "resulting value: %d", result)
	if result != value {
		return fmt.Errorf("verification failed: requested value is %d, but the resulting value is %d", value, result)
	}
	if err := mediaCodec.SetParametersNDK(mediaCodecFmt); err != nil {
		return fmt.Errorf("unable to SetParameters: %w", err)
	}
	return nil
}
