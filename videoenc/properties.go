package videoenc

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/xaionaro-go/codecdriver/logger"
	"github.com/xaionaro-go/xsync"
)

func (e *Encoder) Bitrate(ctx context.Context) uint64 {
	return xsync.DoR1(ctx, &e.locker, func() uint64 {
		return e.config.Bitrate
	})
}

// SetBitrate changes the target bitrate. While running it is applied to
// the codec right away, which requires support of dynamic bitrate.
func (e *Encoder) SetBitrate(
	ctx context.Context,
	bitrate uint64,
) (_err error) {
	logger.Tracef(ctx, "SetBitrate(%d)", bitrate)
	defer func() { logger.Tracef(ctx, "/SetBitrate(%d): %v", bitrate, _err) }()
	return xsync.DoR1(ctx, &e.locker, func() error {
		e.config.Bitrate = bitrate
		if !e.started {
			return nil
		}
		if err := e.session.SetDynamicBitrate(ctx, bitrate); err != nil {
			logger.Warnf(ctx, "unable to set the bitrate to %sbps: %v", humanize.SI(float64(bitrate), ""), err)
			return ErrInvalidState{Err: err}
		}
		logger.Debugf(ctx, "the bitrate is set to %sbps", humanize.SI(float64(bitrate), ""))
		return nil
	})
}

func (e *Encoder) KeyFrameInterval(ctx context.Context) float64 {
	return xsync.DoR1(ctx, &e.locker, func() float64 {
		return e.config.KeyFrameInterval
	})
}

// SetKeyFrameInterval sets the distance between key frames, in seconds.
// It cannot be changed while running.
func (e *Encoder) SetKeyFrameInterval(
	ctx context.Context,
	interval float64,
) (_err error) {
	logger.Tracef(ctx, "SetKeyFrameInterval(%v)", interval)
	defer func() { logger.Tracef(ctx, "/SetKeyFrameInterval(%v): %v", interval, _err) }()
	return xsync.DoR1(ctx, &e.locker, func() error {
		if e.started {
			return ErrInvalidState{Err: fmt.Errorf("the key frame interval cannot be changed while running")}
		}
		e.config.KeyFrameInterval = interval
		return nil
	})
}
