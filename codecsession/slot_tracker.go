package codecsession

import (
	"context"
	"sync"

	"github.com/xaionaro-go/codecdriver/logger"
)

// SlotTracker enforces that every dequeued slot is returned exactly once
// (queued for input slots, released for output slots).
type SlotTracker struct {
	locker  sync.Mutex
	inputs  map[SlotIndex]struct{}
	outputs map[SlotIndex]struct{}
}

func NewSlotTracker() *SlotTracker {
	return &SlotTracker{
		inputs:  map[SlotIndex]struct{}{},
		outputs: map[SlotIndex]struct{}{},
	}
}

func (t *SlotTracker) DequeuedInput(ctx context.Context, idx SlotIndex) {
	t.locker.Lock()
	defer t.locker.Unlock()
	if _, ok := t.inputs[idx]; ok {
		logger.Errorf(ctx, "input slot %d is handed out twice", idx)
	}
	t.inputs[idx] = struct{}{}
}

func (t *SlotTracker) DequeuedOutput(ctx context.Context, idx SlotIndex) {
	t.locker.Lock()
	defer t.locker.Unlock()
	if _, ok := t.outputs[idx]; ok {
		logger.Errorf(ctx, "output slot %d is handed out twice", idx)
	}
	t.outputs[idx] = struct{}{}
}

// IsInputOwned tells whether the caller currently owns the input slot.
func (t *SlotTracker) IsInputOwned(idx SlotIndex) bool {
	t.locker.Lock()
	defer t.locker.Unlock()
	_, ok := t.inputs[idx]
	return ok
}

func (t *SlotTracker) IsOutputOwned(idx SlotIndex) bool {
	t.locker.Lock()
	defer t.locker.Unlock()
	_, ok := t.outputs[idx]
	return ok
}

func (t *SlotTracker) QueuedInput(idx SlotIndex) error {
	t.locker.Lock()
	defer t.locker.Unlock()
	if _, ok := t.inputs[idx]; !ok {
		return ErrSlotNotOwned{Index: idx, Input: true}
	}
	delete(t.inputs, idx)
	return nil
}

func (t *SlotTracker) ReleasedOutput(idx SlotIndex) error {
	t.locker.Lock()
	defer t.locker.Unlock()
	if _, ok := t.outputs[idx]; !ok {
		return ErrSlotNotOwned{Index: idx, Input: false}
	}
	delete(t.outputs, idx)
	return nil
}

// Outstanding returns the amount of slots currently owned by the caller.
func (t *SlotTracker) Outstanding() (inputs, outputs int) {
	t.locker.Lock()
	defer t.locker.Unlock()
	return len(t.inputs), len(t.outputs)
}

// Reset forgets every outstanding slot (after Flush or Stop all of them
// become invalid).
func (t *SlotTracker) Reset() {
	t.locker.Lock()
	defer t.locker.Unlock()
	clear(t.inputs)
	clear(t.outputs)
}
