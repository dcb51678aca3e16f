// Package closuresignaler provides a once-closable signal, used to tell
// worker goroutines to stop and to tell their owners that they stopped.
package closuresignaler

import (
	"context"
	"sync"
)

type ClosureSignaler struct {
	closeOnce sync.Once
	c         chan struct{}
}

func New() *ClosureSignaler {
	return &ClosureSignaler{
		c: make(chan struct{}),
	}
}

func (c *ClosureSignaler) CloseChan() <-chan struct{} {
	return c.c
}

// Close is safe to call multiple times and from multiple goroutines.
func (c *ClosureSignaler) Close(ctx context.Context) {
	c.closeOnce.Do(func() {
		close(c.c)
	})
}

func (c *ClosureSignaler) IsClosed() bool {
	select {
	case <-c.c:
		return true
	default:
		return false
	}
}

// Wait blocks until the signaler is closed or the context is cancelled.
func (c *ClosureSignaler) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.c:
		return nil
	}
}
