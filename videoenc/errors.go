package videoenc

import (
	"errors"
	"fmt"
	"time"

	"github.com/xaionaro-go/codecdriver/codecsession"
)

type ErrResource = codecsession.ErrResource
type ErrConfiguration = codecsession.ErrConfiguration
type ErrDequeue = codecsession.ErrDequeue
type ErrQueue = codecsession.ErrQueue
type ErrInvalidState = codecsession.ErrInvalidState

// ErrEndOfStream may be returned by Listener.FinishedOutput to tell that
// no more outputs are wanted.
var ErrEndOfStream = errors.New("end of stream")

type ErrNotStarted struct{}

func (ErrNotStarted) Error() string {
	return "the encoder is not started"
}

type ErrFlushing struct{}

func (ErrFlushing) Error() string {
	return "the encoder is flushing"
}

type ErrFlow struct {
	Status FlowStatus
}

func (e ErrFlow) Error() string {
	return fmt.Sprintf("downstream flow status is %s", e.Status)
}

type ErrDrainTimeout struct {
	Timeout time.Duration
}

func (e ErrDrainTimeout) Error() string {
	return fmt.Sprintf("the codec was not drained within %v", e.Timeout)
}

type ErrWrite struct {
	Err error
}

func (e ErrWrite) Error() string {
	return fmt.Sprintf("unable to write the frame into the input slot: %v", e.Err)
}

func (e ErrWrite) Unwrap() error {
	return e.Err
}

type ErrNegotiation struct {
	Err error
}

func (e ErrNegotiation) Error() string {
	return fmt.Sprintf("unable to negotiate the output format: %v", e.Err)
}

func (e ErrNegotiation) Unwrap() error {
	return e.Err
}

func flowStatusToError(status FlowStatus) error {
	switch status {
	case FlowStatusOK:
		return nil
	case FlowStatusFlushing:
		return ErrFlushing{}
	default:
		return ErrFlow{Status: status}
	}
}
