//go:build !android
// +build !android

package libavsession

import (
	"context"
)

func platformHasHardwareCodec(
	ctx context.Context,
	mimeType string,
) bool {
	return true
}
