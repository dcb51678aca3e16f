//go:build !mediacodec
// +build !mediacodec

package libavsession

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
)

const dynamicBitrateSupported = false

func setDynamicBitrate(
	ctx context.Context,
	codec *astiav.Codec,
	codecContext *astiav.CodecContext,
	bitrate uint64,
) error {
	return fmt.Errorf("built without MediaCodec support")
}
