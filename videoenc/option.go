package videoenc

import (
	"time"
)

const (
	DefaultBitrate           = 2 * 1024 * 1024
	DefaultKeyFrameInterval  = 0
	DefaultDequeueTimeout    = 100 * time.Millisecond
	DefaultDrainInputTimeout = 500 * time.Millisecond
	DefaultDrainTimeout      = 5 * time.Second
)

type OptionCommons struct{}

func (OptionCommons) encoderOption() {}

type Option interface {
	encoderOption()
}

type Options []Option

func OptionLatest[T Option](s Options) (ret T, ok bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if v, ok := s[i].(T); ok {
			return v, true
		}
	}
	return
}

type OptionBitrate struct {
	OptionCommons
	Bitrate uint64
}

// OptionKeyFrameInterval is the distance between key frames, in seconds.
type OptionKeyFrameInterval struct {
	OptionCommons
	Interval float64
}

// OptionDequeueTimeout bounds every wait for an input or an output slot.
type OptionDequeueTimeout struct {
	OptionCommons
	Timeout time.Duration
}

// OptionDrainInputTimeout bounds the wait for the input slot used to send
// the end-of-stream buffer.
type OptionDrainInputTimeout struct {
	OptionCommons
	Timeout time.Duration
}

// OptionDrainTimeout bounds the wait for the end-of-stream buffer to come
// out of the codec.
type OptionDrainTimeout struct {
	OptionCommons
	Timeout time.Duration
}

// OptionStaleThresholds defines when a frame still waiting for its output
// is considered lost by the codec.
type OptionStaleThresholds struct {
	OptionCommons
	MaxDistanceTime   time.Duration
	MaxDistanceFrames uint64
}

type config struct {
	Bitrate           uint64
	KeyFrameInterval  float64
	DequeueTimeout    time.Duration
	DrainInputTimeout time.Duration
	DrainTimeout      time.Duration
	MaxDistanceTime   time.Duration
	MaxDistanceFrames uint64
}

func (opts Options) config() config {
	cfg := config{
		Bitrate:           DefaultBitrate,
		KeyFrameInterval:  DefaultKeyFrameInterval,
		DequeueTimeout:    DefaultDequeueTimeout,
		DrainInputTimeout: DefaultDrainInputTimeout,
		DrainTimeout:      DefaultDrainTimeout,
	}
	if v, ok := OptionLatest[OptionBitrate](opts); ok {
		cfg.Bitrate = v.Bitrate
	}
	if v, ok := OptionLatest[OptionKeyFrameInterval](opts); ok {
		cfg.KeyFrameInterval = v.Interval
	}
	if v, ok := OptionLatest[OptionDequeueTimeout](opts); ok && v.Timeout > 0 {
		cfg.DequeueTimeout = v.Timeout
	}
	if v, ok := OptionLatest[OptionDrainInputTimeout](opts); ok && v.Timeout > 0 {
		cfg.DrainInputTimeout = v.Timeout
	}
	if v, ok := OptionLatest[OptionDrainTimeout](opts); ok && v.Timeout > 0 {
		cfg.DrainTimeout = v.Timeout
	}
	if v, ok := OptionLatest[OptionStaleThresholds](opts); ok {
		cfg.MaxDistanceTime = v.MaxDistanceTime
		cfg.MaxDistanceFrames = v.MaxDistanceFrames
	}
	return cfg
}
