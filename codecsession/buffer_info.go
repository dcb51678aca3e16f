package codecsession

import (
	"fmt"
	"strings"
	"time"
)

type BufferFlags uint32

const (
	BufferFlagSyncFrame    = BufferFlags(1)
	BufferFlagCodecConfig  = BufferFlags(2)
	BufferFlagEndOfStream  = BufferFlags(4)
	BufferFlagPartialFrame = BufferFlags(8)
)

func (f BufferFlags) Has(flag BufferFlags) bool {
	return f&flag == flag
}

func (f BufferFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, item := range []struct {
		Flag BufferFlags
		Name string
	}{
		{BufferFlagSyncFrame, "sync"},
		{BufferFlagCodecConfig, "config"},
		{BufferFlagEndOfStream, "eos"},
		{BufferFlagPartialFrame, "partial"},
	} {
		if f.Has(item.Flag) {
			names = append(names, item.Name)
			f &^= item.Flag
		}
	}
	if f != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(f)))
	}
	return strings.Join(names, "|")
}

// BufferInfo describes the valid region of a slot buffer.
type BufferInfo struct {
	Offset             int
	Size               int
	PresentationTimeUs int64
	Flags              BufferFlags
}

func (info BufferInfo) PresentationTime() time.Duration {
	return time.Duration(info.PresentationTimeUs) * time.Microsecond
}

func (info BufferInfo) IsEndOfStream() bool {
	return info.Flags.Has(BufferFlagEndOfStream)
}

func (info BufferInfo) IsCodecConfig() bool {
	return info.Flags.Has(BufferFlagCodecConfig)
}

func (info BufferInfo) String() string {
	return fmt.Sprintf("{off:%d size:%d pts:%dus flags:%s}", info.Offset, info.Size, info.PresentationTimeUs, info.Flags)
}

// Payload returns the valid region of buf described by info.
func (info BufferInfo) Payload(buf []byte) ([]byte, error) {
	if info.Offset < 0 || info.Size < 0 || info.Offset+info.Size > len(buf) {
		return nil, fmt.Errorf("buffer info %s does not fit into a buffer of size %d", info, len(buf))
	}
	return buf[info.Offset : info.Offset+info.Size], nil
}
