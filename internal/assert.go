package internal

import (
	"context"

	"github.com/xaionaro-go/codecdriver/logger"
)

// Assert panics (through the logger, so the message ends up in the logs
// with all the context fields) if mustBeTrue is false.
func Assert(
	ctx context.Context,
	mustBeTrue bool,
	extraArgs ...any,
) {
	if mustBeTrue {
		return
	}

	logger.Panicf(ctx, "assertion failed: %v", extraArgs)
}
