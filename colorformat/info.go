package colorformat

import (
	"fmt"
)

// Info describes how one raw frame is laid out inside a codec input slot.
type Info struct {
	ColorFormat ColorFormat
	Width       int
	Height      int
	Stride      int
	SliceHeight int
	FrameSize   int
}

func NewInfo(
	cf ColorFormat,
	width, height int,
	stride, sliceHeight int,
) (*Info, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("width or height is not positive: %dx%d", width, height)
	}
	if stride == 0 {
		stride = width
	}
	if sliceHeight == 0 {
		sliceHeight = height
	}
	if stride < width || sliceHeight < height {
		return nil, fmt.Errorf("stride/slice-height %d/%d is smaller than the picture %dx%d", stride, sliceHeight, width, height)
	}

	var frameSize int
	switch cf {
	case ColorFormatYUV420Planar, ColorFormatYUV420Flexible, ColorFormatYV12:
		frameSize = stride*sliceHeight + 2*((stride+1)/2)*((sliceHeight+1)/2)
	case ColorFormatYUV420SemiPlanar:
		frameSize = stride*sliceHeight + stride*((sliceHeight+1)/2)
	default:
		return nil, fmt.Errorf("unsupported color format %s", cf)
	}

	return &Info{
		ColorFormat: cf,
		Width:       width,
		Height:      height,
		Stride:      stride,
		SliceHeight: sliceHeight,
		FrameSize:   frameSize,
	}, nil
}

// SourceSize is the size of a tightly packed raw frame of this geometry.
func (info *Info) SourceSize() int {
	cw, ch := (info.Width+1)/2, (info.Height+1)/2
	return info.Width*info.Height + 2*cw*ch
}

// CopyIn copies a tightly packed raw frame into dst using the codec layout.
func (info *Info) CopyIn(dst, src []byte) error {
	if len(dst) < info.FrameSize {
		return fmt.Errorf("destination is too small: %d < %d", len(dst), info.FrameSize)
	}
	if len(src) < info.SourceSize() {
		return fmt.Errorf("source is too small: %d < %d", len(src), info.SourceSize())
	}

	w, h := info.Width, info.Height
	cw, ch := (w+1)/2, (h+1)/2
	lumaSize := info.Stride * info.SliceHeight

	copyPlane(dst, info.Stride, src, w, w, h)
	src = src[w*h:]

	switch info.ColorFormat {
	case ColorFormatYUV420SemiPlanar:
		copyPlane(dst[lumaSize:], info.Stride, src, 2*cw, min(2*cw, info.Stride), ch)
	default:
		chromaStride := (info.Stride + 1) / 2
		chromaPlaneSize := chromaStride * ((info.SliceHeight + 1) / 2)
		copyPlane(dst[lumaSize:], chromaStride, src, cw, cw, ch)
		copyPlane(dst[lumaSize+chromaPlaneSize:], chromaStride, src[cw*ch:], cw, cw, ch)
	}
	return nil
}

// CopyOut is the reverse of CopyIn: it packs a frame in the codec layout
// into dst tightly.
func (info *Info) CopyOut(dst, src []byte) error {
	if len(dst) < info.SourceSize() {
		return fmt.Errorf("destination is too small: %d < %d", len(dst), info.SourceSize())
	}
	if len(src) < info.FrameSize {
		return fmt.Errorf("source is too small: %d < %d", len(src), info.FrameSize)
	}

	w, h := info.Width, info.Height
	cw, ch := (w+1)/2, (h+1)/2
	lumaSize := info.Stride * info.SliceHeight

	copyPlane(dst, w, src, info.Stride, w, h)
	dst = dst[w*h:]

	switch info.ColorFormat {
	case ColorFormatYUV420SemiPlanar:
		copyPlane(dst, 2*cw, src[lumaSize:], info.Stride, min(2*cw, info.Stride), ch)
	default:
		chromaStride := (info.Stride + 1) / 2
		chromaPlaneSize := chromaStride * ((info.SliceHeight + 1) / 2)
		copyPlane(dst, cw, src[lumaSize:], chromaStride, cw, ch)
		copyPlane(dst[cw*ch:], cw, src[lumaSize+chromaPlaneSize:], chromaStride, cw, ch)
	}
	return nil
}

func copyPlane(
	dst []byte, dstStride int,
	src []byte, srcStride int,
	rowSize, rows int,
) {
	if dstStride == srcStride && srcStride == rowSize {
		copy(dst[:rowSize*rows], src[:rowSize*rows])
		return
	}
	for y := 0; y < rows; y++ {
		copy(dst[y*dstStride:y*dstStride+rowSize], src[y*srcStride:y*srcStride+rowSize])
	}
}
