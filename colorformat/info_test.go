package colorformat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromPixelFormat(t *testing.T) {
	supported := []ColorFormat{ColorFormatAndroidOpaque, ColorFormatYUV420SemiPlanar, ColorFormatYUV420Planar}

	cf, ok := FromPixelFormat(supported, PixelFormatI420)
	require.True(t, ok)
	require.Equal(t, ColorFormatYUV420Planar, cf)

	cf, ok = FromPixelFormat(supported, PixelFormatNV12)
	require.True(t, ok)
	require.Equal(t, ColorFormatYUV420SemiPlanar, cf)

	_, ok = FromPixelFormat(supported, PixelFormatYUY2)
	require.False(t, ok)
}

func TestNewInfoFrameSize(t *testing.T) {
	for _, tc := range []struct {
		cf        ColorFormat
		w, h      int
		stride    int
		slice     int
		frameSize int
	}{
		{ColorFormatYUV420Planar, 320, 240, 320, 240, 320*240 + 2*160*120},
		{ColorFormatYUV420Flexible, 318, 240, 320, 240, 320*240 + 2*160*120},
		{ColorFormatYUV420SemiPlanar, 320, 240, 320, 256, 320*256 + 320*128},
		{ColorFormatYV12, 7, 5, 8, 5, 8*5 + 2*4*3},
	} {
		t.Run(tc.cf.String(), func(t *testing.T) {
			info, err := NewInfo(tc.cf, tc.w, tc.h, tc.stride, tc.slice)
			require.NoError(t, err)
			require.Equal(t, tc.frameSize, info.FrameSize)
		})
	}

	_, err := NewInfo(ColorFormatYCbYCr, 320, 240, 320, 240)
	require.Error(t, err)
	_, err = NewInfo(ColorFormatYUV420Planar, 0, 240, 320, 240)
	require.Error(t, err)
	_, err = NewInfo(ColorFormatYUV420Planar, 320, 240, 300, 240)
	require.Error(t, err)
}

func TestCopyInPlanarWithStride(t *testing.T) {
	info, err := NewInfo(ColorFormatYUV420Planar, 2, 2, 4, 2)
	require.NoError(t, err)

	src := []byte{1, 2, 3, 4, 5, 6}
	dst := make([]byte, info.FrameSize)
	require.NoError(t, info.CopyIn(dst, src))
	require.Equal(t, []byte{
		1, 2, 0, 0,
		3, 4, 0, 0,
		5, 0,
		6, 0,
	}, dst)

	require.Error(t, info.CopyIn(dst[:3], src))
	require.Error(t, info.CopyIn(dst, src[:5]))
}

func TestCopyInSemiPlanar(t *testing.T) {
	info, err := NewInfo(ColorFormatYUV420SemiPlanar, 2, 2, 2, 2)
	require.NoError(t, err)

	src := []byte{1, 2, 3, 4, 5, 6}
	dst := make([]byte, info.FrameSize)
	require.NoError(t, info.CopyIn(dst, src))
	require.Equal(t, src, dst)
}

func TestCopyOutReversesCopyIn(t *testing.T) {
	for _, cf := range []ColorFormat{ColorFormatYUV420Planar, ColorFormatYUV420SemiPlanar} {
		t.Run(cf.String(), func(t *testing.T) {
			info, err := NewInfo(cf, 6, 3, 8, 4)
			require.NoError(t, err)

			src := make([]byte, info.SourceSize())
			for i := range src {
				src[i] = byte(i + 1)
			}
			codecLayout := make([]byte, info.FrameSize)
			require.NoError(t, info.CopyIn(codecLayout, src))

			packed := make([]byte, info.SourceSize())
			require.NoError(t, info.CopyOut(packed, codecLayout))
			require.Equal(t, src, packed)

			require.Error(t, info.CopyOut(packed, codecLayout[:info.FrameSize-1]))
		})
	}
}
