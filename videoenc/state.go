package videoenc

import (
	"fmt"
)

// State is the externally visible lifecycle state of an Encoder.
type State int

const (
	StateClosed = State(iota)
	StateOpened
	StateConfigured
	StateRunning
	StateFlushing
	StateStopped
	endOfState
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateFlushing:
		return "flushing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FlowStatus is the status of the output direction of the stream, as it
// was last observed by the collect loop.
type FlowStatus int

const (
	FlowStatusOK = FlowStatus(iota)
	FlowStatusFlushing
	FlowStatusError
	FlowStatusEOS
	FlowStatusNotNegotiated
	endOfFlowStatus
)

func (s FlowStatus) String() string {
	switch s {
	case FlowStatusOK:
		return "ok"
	case FlowStatusFlushing:
		return "flushing"
	case FlowStatusError:
		return "error"
	case FlowStatusEOS:
		return "eos"
	case FlowStatusNotNegotiated:
		return "not-negotiated"
	default:
		return fmt.Sprintf("FlowStatus(%d)", int(s))
	}
}

// ErrorKind classifies errors reported through Listener.FatalError and
// Listener.FrameError.
type ErrorKind int

const (
	ErrorKindUndefined = ErrorKind(iota)
	ErrorKindResource
	ErrorKindConfiguration
	ErrorKindDequeue
	ErrorKindQueue
	ErrorKindWrite
	ErrorKindNegotiation
	ErrorKindFlow
	ErrorKindSession
	endOfErrorKind
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindUndefined:
		return "undefined"
	case ErrorKindResource:
		return "resource"
	case ErrorKindConfiguration:
		return "configuration"
	case ErrorKindDequeue:
		return "dequeue"
	case ErrorKindQueue:
		return "queue"
	case ErrorKindWrite:
		return "write"
	case ErrorKindNegotiation:
		return "negotiation"
	case ErrorKindFlow:
		return "flow"
	case ErrorKindSession:
		return "session"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}
