package videoenc

import (
	"fmt"

	"go.uber.org/atomic"
)

// Stats are the counters of an Encoder; they are safe to read at any time.
type Stats struct {
	Submitted     atomic.Uint64
	Finished      atomic.Uint64
	Unmatched     atomic.Uint64
	Evicted       atomic.Uint64
	Aborted       atomic.Uint64
	Drains        atomic.Uint64
	Flushes       atomic.Uint64
	FormatChanges atomic.Uint64
	HeaderOutputs atomic.Uint64
}

func (s *Stats) String() string {
	return fmt.Sprintf(
		"submitted:%d finished:%d unmatched:%d evicted:%d aborted:%d drains:%d flushes:%d format-changes:%d headers:%d",
		s.Submitted.Load(), s.Finished.Load(), s.Unmatched.Load(), s.Evicted.Load(),
		s.Aborted.Load(), s.Drains.Load(), s.Flushes.Load(), s.FormatChanges.Load(),
		s.HeaderOutputs.Load(),
	)
}
