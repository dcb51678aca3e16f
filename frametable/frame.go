package frametable

import (
	"fmt"
	"math"
	"time"

	"github.com/xaionaro-go/typing"
)

// Frame is the submit-side record of one input frame, kept until the codec
// output produced from it is found.
type Frame struct {
	SequenceNumber uint64
	PTS            typing.Optional[time.Duration]
	Duration       typing.Optional[time.Duration]
	ForceKeyFrame  bool
	SyncPoint      bool
	SubmittedAt    time.Time

	// Payload is borrowed from the caller and dropped once it is copied
	// into an input slot.
	Payload []byte

	// OutputPayload is set when an output is correlated with the frame.
	OutputPayload []byte
}

func (f *Frame) String() string {
	if f == nil {
		return "<nil>"
	}
	if !f.PTS.IsSet() {
		return fmt.Sprintf("#%d(pts:none)", f.SequenceNumber)
	}
	return fmt.Sprintf("#%d(pts:%v)", f.SequenceNumber, f.PTS.Get())
}

// timestamp is the lookup key: a missing timestamp sorts after everything.
func (f *Frame) timestamp() uint64 {
	if !f.PTS.IsSet() {
		return math.MaxUint64
	}
	return uint64(f.PTS.Get())
}
