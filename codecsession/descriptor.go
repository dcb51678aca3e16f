package codecsession

import (
	"slices"

	"github.com/xaionaro-go/codecdriver/colorformat"
)

// Descriptor describes a codec available on the system: what it is
// called, what it can produce and which optional features it has.
type Descriptor struct {
	Name                          string
	MIMETypes                     []string
	ColorFormats                  []colorformat.ColorFormat
	IsHardware                    bool
	SupportsDynamicBitrate        bool
	SupportsFloatKeyFrameInterval bool
}

func (d Descriptor) SupportsMIMEType(mimeType string) bool {
	return slices.Contains(d.MIMETypes, mimeType)
}
