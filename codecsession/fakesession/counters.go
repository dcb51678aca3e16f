package fakesession

import (
	"fmt"

	"go.uber.org/atomic"
)

// Counters counts calls of every session method.
type Counters struct {
	NewSession        atomic.Uint64
	Configure         atomic.Uint64
	Start             atomic.Uint64
	Stop              atomic.Uint64
	Flush             atomic.Uint64
	Release           atomic.Uint64
	DequeueInput      atomic.Uint64
	QueueInput        atomic.Uint64
	DequeueOutput     atomic.Uint64
	ReleaseOutput     atomic.Uint64
	RequestKeyFrame   atomic.Uint64
	SetDynamicBitrate atomic.Uint64

	// SlotViolations counts queue/release calls on slots the caller did not own.
	SlotViolations atomic.Uint64
}

func (c *Counters) String() string {
	return fmt.Sprintf(
		"new:%d configure:%d start:%d stop:%d flush:%d release:%d dequeue-in:%d queue-in:%d dequeue-out:%d release-out:%d key-frame:%d bitrate:%d violations:%d",
		c.NewSession.Load(), c.Configure.Load(), c.Start.Load(), c.Stop.Load(),
		c.Flush.Load(), c.Release.Load(), c.DequeueInput.Load(), c.QueueInput.Load(),
		c.DequeueOutput.Load(), c.ReleaseOutput.Load(), c.RequestKeyFrame.Load(),
		c.SetDynamicBitrate.Load(), c.SlotViolations.Load(),
	)
}
