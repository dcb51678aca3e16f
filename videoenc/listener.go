package videoenc

import (
	"context"
	"time"

	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/frametable"
	"github.com/xaionaro-go/codecdriver/types"
)

// Output is one encoded unit produced by the codec.
type Output struct {
	Payload   []byte
	PTS       time.Duration
	Flags     codecsession.BufferFlags
	SyncFrame bool

	// Dropped is set when the frame is finished without any output
	// (it was lost by the codec).
	Dropped bool
}

// OutputDescription is the negotiated description of the encoded stream.
type OutputDescription struct {
	MIMEType   string
	Resolution types.Resolution
	FrameRate  types.Rational
	Bitrate    uint64

	// CodecDataInBytestream tells that stream headers are sent in-band,
	// prepended to the next output.
	CodecDataInBytestream bool
	CodecData             [][]byte
}

// Listener receives everything the encoder produces. Its methods are
// called from the collect loop goroutine, without the encoder locked.
type Listener interface {
	// FinishedOutput is called once per output. frame is nil if the output
	// could not be matched with any submitted frame. Returning
	// ErrEndOfStream ends the stream; any other error is fatal.
	FinishedOutput(ctx context.Context, frame *frametable.Frame, output Output) error

	Renegotiated(ctx context.Context, desc OutputDescription) error

	// FatalError is called when the stream failed (or a configuration
	// attempt was rejected).
	FatalError(ctx context.Context, kind ErrorKind, err error)

	// FrameError is called when a single input frame was dropped
	// without failing the stream.
	FrameError(ctx context.Context, kind ErrorKind, err error)
}
