// Package frametable correlates codec outputs with the input frames they
// were produced from, by nearest presentation timestamp.
package frametable

import (
	"context"
	"slices"
	"time"

	"github.com/xaionaro-go/codecdriver/logger"
)

const (
	DefaultMaxDistanceTime   = 5 * time.Second
	DefaultMaxDistanceFrames = 100
)

// Table holds in-flight frames in insertion order.
//
// It is not safe for concurrent use: the owner serializes access.
type Table struct {
	MaxDistanceTime   time.Duration
	MaxDistanceFrames uint64

	frames       []*Frame
	nextSequence uint64
}

func New() *Table {
	return &Table{
		MaxDistanceTime:   DefaultMaxDistanceTime,
		MaxDistanceFrames: DefaultMaxDistanceFrames,
	}
}

// Insert appends the frame and assigns it the next sequence number.
func (t *Table) Insert(f *Frame) *Frame {
	f.SequenceNumber = t.nextSequence
	t.nextSequence++
	t.frames = append(t.frames, f)
	return f
}

func (t *Table) Len() int {
	return len(t.frames)
}

// Frames returns a copy of the in-flight frames in insertion order.
func (t *Table) Frames() []*Frame {
	return slices.Clone(t.frames)
}

// Remove drops the frame; returns false if it is not in the table.
func (t *Table) Remove(f *Frame) bool {
	idx := slices.Index(t.frames, f)
	if idx < 0 {
		return false
	}
	t.frames = slices.Delete(t.frames, idx, idx+1)
	return true
}

// Clear drops every frame and returns them in insertion order.
func (t *Table) Clear() []*Frame {
	frames := t.frames
	t.frames = nil
	return frames
}

// FindNearest returns the frame whose timestamp is the closest to ref.
// On equal distance the earliest inserted frame wins. A frame without
// timestamp is taken right away when ref is zero, so outputs of
// timestamp-less streams are matched in submission order.
func (t *Table) FindNearest(ref time.Duration) *Frame {
	reference := uint64(ref)
	var (
		best     *Frame
		bestDiff uint64
	)
	for _, f := range t.frames {
		ts := f.timestamp()
		var diff uint64
		if ts > reference {
			diff = ts - reference
		} else {
			diff = reference - ts
		}
		if best != nil && diff >= bestDiff {
			continue
		}
		best, bestDiff = f, diff
		if (reference == 0 && !f.PTS.IsSet()) || diff == 0 {
			break
		}
	}
	return best
}

// EvictStaleBefore removes and returns frames inserted before best that
// are too far from it (by time or by amount of frames). Such frames will
// never be matched with an output anymore.
func (t *Table) EvictStaleBefore(ctx context.Context, best *Frame) []*Frame {
	if best == nil {
		return nil
	}
	bestTS := best.timestamp()

	var stale []*Frame
	for _, f := range t.frames {
		if f == best {
			break
		}
		ts := f.timestamp()
		if ts > bestTS {
			break
		}
		var diffTime uint64
		if ts != 0 && bestTS != 0 {
			diffTime = bestTS - ts
		}
		diffFrames := best.SequenceNumber - f.SequenceNumber
		if diffTime > uint64(t.MaxDistanceTime) || diffFrames > t.MaxDistanceFrames {
			stale = append(stale, f)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	logger.Warnf(ctx, "%d too old frames (the oldest is %s, matched %s): the codec lost them", len(stale), stale[0], best)
	t.frames = slices.DeleteFunc(t.frames, func(f *Frame) bool {
		return slices.Contains(stale, f)
	})
	return stale
}
