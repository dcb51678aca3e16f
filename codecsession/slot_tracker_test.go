package codecsession

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotTracker(t *testing.T) {
	ctx := context.Background()
	tr := NewSlotTracker()

	tr.DequeuedInput(ctx, 1)
	tr.DequeuedOutput(ctx, 1)
	require.True(t, tr.IsInputOwned(1))
	require.True(t, tr.IsOutputOwned(1))

	require.NoError(t, tr.QueuedInput(1))
	err := tr.QueuedInput(1)
	var notOwned ErrSlotNotOwned
	require.True(t, errors.As(err, &notOwned))
	require.True(t, notOwned.Input)

	require.NoError(t, tr.ReleasedOutput(1))
	require.Error(t, tr.ReleasedOutput(1))
	require.Error(t, tr.ReleasedOutput(2))

	tr.DequeuedInput(ctx, 3)
	tr.DequeuedOutput(ctx, 4)
	in, out := tr.Outstanding()
	require.Equal(t, 1, in)
	require.Equal(t, 1, out)

	tr.Reset()
	in, out = tr.Outstanding()
	require.Zero(t, in)
	require.Zero(t, out)
	require.Error(t, tr.QueuedInput(3))
}

func TestBufferInfo(t *testing.T) {
	info := BufferInfo{Offset: 1, Size: 2, PresentationTimeUs: 33000, Flags: BufferFlagSyncFrame | BufferFlagEndOfStream}
	require.True(t, info.IsEndOfStream())
	require.False(t, info.IsCodecConfig())
	require.Equal(t, "sync|eos", info.Flags.String())
	require.Equal(t, int64(33), info.PresentationTime().Milliseconds())

	payload, err := info.Payload([]byte{0, 1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, payload)

	_, err = info.Payload([]byte{0, 1})
	require.Error(t, err)
}

func TestFormatKeyFrameIntervalInt(t *testing.T) {
	for _, tc := range []struct {
		in  float64
		out int
	}{
		{0, 0},
		{0.2, 1},
		{1, 1},
		{2.4, 2},
		{2.5, 2},
	} {
		f := &Format{KeyFrameInterval: tc.in}
		require.Equal(t, tc.out, f.KeyFrameIntervalInt(), tc.in)
	}
}

func TestFormatClone(t *testing.T) {
	f := &Format{MIMEType: MIMETypeH264, Width: 2, Height: 2, CodecData: [][]byte{{1, 2}}}
	cpy := f.Clone()
	cpy.CodecData[0][0] = 9
	require.Equal(t, byte(1), f.CodecData[0][0])
	require.Contains(t, f.String(), "video/avc 2x2")
}
