// Package codecsession defines the contract between the encoder driver and
// a single hardware (or hardware-like) codec instance driven through
// numbered input/output buffer slots.
package codecsession

import (
	"context"
	"time"
)

// SlotIndex identifies a buffer slot owned by a session. A dequeued slot
// belongs to the caller until it is queued (input) or released (output).
type SlotIndex int

const InvalidSlotIndex = SlotIndex(-1)

func (idx SlotIndex) IsValid() bool {
	return idx >= 0
}

// Session is one configured codec instance.
//
// DequeueInputSlot and DequeueOutputSlot return ErrWouldBlock when nothing
// became available within the timeout. DequeueOutputSlot returns
// ErrFormatChanged when the output format changed; GetOutputFormat returns
// the new one. Queueing a zero-size input buffer with BufferFlagEndOfStream
// requests a drain: the codec emits every pending output and then a final
// output carrying BufferFlagEndOfStream.
//
// Flush invalidates every dequeued slot. Start, Stop and Release are
// idempotent.
type Session interface {
	Configure(ctx context.Context, format *Format) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Flush(ctx context.Context) error
	Release(ctx context.Context) error

	DequeueInputSlot(ctx context.Context, timeout time.Duration) (SlotIndex, error)
	GetInputBuffer(ctx context.Context, idx SlotIndex) ([]byte, error)
	QueueInputSlot(ctx context.Context, idx SlotIndex, info BufferInfo) error

	DequeueOutputSlot(ctx context.Context, timeout time.Duration) (SlotIndex, BufferInfo, error)
	GetOutputBuffer(ctx context.Context, idx SlotIndex) ([]byte, error)
	ReleaseOutputSlot(ctx context.Context, idx SlotIndex, render bool) error
	GetOutputFormat(ctx context.Context) (*Format, error)

	RequestKeyFrame(ctx context.Context) error
	SetDynamicBitrate(ctx context.Context, bitrate uint64) error
}

// Factory creates sessions for a codec described by Descriptor.
type Factory interface {
	NewSession(ctx context.Context, desc Descriptor, listener Listener) (Session, error)
}

// Listener receives asynchronous failures of a session, which are not
// bound to any particular call.
type Listener interface {
	OnSessionError(ctx context.Context, err error)
}

type ListenerFunc func(ctx context.Context, err error)

func (fn ListenerFunc) OnSessionError(ctx context.Context, err error) {
	fn(ctx, err)
}
