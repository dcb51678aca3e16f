package fakesession

const (
	DefaultInputSlots    = 4
	DefaultInputCapacity = 1 << 20
)

// Params defines the behavior of a fake codec. Zero value is a codec
// that echoes every input back as an output in submission order.
type Params struct {
	InputSlots    int
	InputCapacity int

	// HoldOutputs makes the codec keep this many outputs before emitting
	// them (as B-frames would), in the order defined by Permutation.
	HoldOutputs int
	Permutation []int

	// EmitFormatChanged makes the first output dequeue report a format change.
	EmitFormatChanged bool

	// CodecConfig is emitted as a codec-config output before the first frame.
	CodecConfig []byte

	// NeverProduceOutput makes output dequeues always wait the full timeout,
	// ignoring the context and flushes, as some broken codecs do.
	NeverProduceOutput bool

	// SwallowEOS makes the codec never answer an end-of-stream input.
	SwallowEOS bool

	SupportsDynamicBitrate bool

	FailConfigure     error
	FailStart         error
	FailDequeueInput  error
	FailDequeueOutput error
	FailQueue         error
	FailRelease       error
}

func (p Params) inputSlots() int {
	if p.InputSlots <= 0 {
		return DefaultInputSlots
	}
	return p.InputSlots
}

func (p Params) inputCapacity() int {
	if p.InputCapacity <= 0 {
		return DefaultInputCapacity
	}
	return p.InputCapacity
}

func (p Params) holdOutputs() int {
	if p.HoldOutputs <= 1 {
		return 1
	}
	return p.HoldOutputs
}
