package codecsession

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock means the timeout expired before a slot became available.
	ErrWouldBlock = errors.New("no slot is available yet")

	// ErrFormatChanged means the output format changed and should be re-read.
	ErrFormatChanged = errors.New("output format changed")
)

type ErrResource struct {
	Err error
}

func (e ErrResource) Error() string {
	return fmt.Sprintf("unable to allocate the codec: %v", e.Err)
}

func (e ErrResource) Unwrap() error {
	return e.Err
}

type ErrConfiguration struct {
	Err error
}

func (e ErrConfiguration) Error() string {
	return fmt.Sprintf("the codec rejected the configuration: %v", e.Err)
}

func (e ErrConfiguration) Unwrap() error {
	return e.Err
}

type ErrDequeue struct {
	Err error
}

func (e ErrDequeue) Error() string {
	return fmt.Sprintf("unable to dequeue a slot: %v", e.Err)
}

func (e ErrDequeue) Unwrap() error {
	return e.Err
}

type ErrQueue struct {
	Err error
}

func (e ErrQueue) Error() string {
	return fmt.Sprintf("unable to queue a slot: %v", e.Err)
}

func (e ErrQueue) Unwrap() error {
	return e.Err
}

type ErrInvalidState struct {
	Err error
}

func (e ErrInvalidState) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid state: %v", e.Err)
	}
	return "invalid state"
}

func (e ErrInvalidState) Unwrap() error {
	return e.Err
}

type ErrSlotNotOwned struct {
	Index SlotIndex
	Input bool
}

func (e ErrSlotNotOwned) Error() string {
	kind := "output"
	if e.Input {
		kind = "input"
	}
	return fmt.Sprintf("%s slot %d is not owned by the caller", kind, e.Index)
}
