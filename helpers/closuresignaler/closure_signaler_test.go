package closuresignaler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClosureSignaler(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.False(t, s.IsClosed())

	waitCtx, cancelFn := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancelFn()
	require.ErrorIs(t, s.Wait(waitCtx), context.DeadlineExceeded)

	s.Close(ctx)
	s.Close(ctx)
	require.True(t, s.IsClosed())
	require.NoError(t, s.Wait(ctx))
}
