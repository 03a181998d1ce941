package capture

// FrameGate is a single-slot admission gate for frame processing. A frame
// is admitted only when no earlier frame is still in flight; everything
// else is dropped at arrival. Frames are never queued, so a slow GPU sheds
// load instead of building latency.
//
// Every admitted frame must be released exactly once, on every path
// through processing, including failures.
type FrameGate struct {
	slot chan struct{}
}

// NewFrameGate returns a gate with one free slot.
func NewFrameGate() *FrameGate {
	return &FrameGate{slot: make(chan struct{}, 1)}
}

// TryAdmit claims the slot if it is free. Never blocks.
func (g *FrameGate) TryAdmit() bool {
	select {
	case g.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the slot claimed by TryAdmit. Releasing an unclaimed gate
// is a no-op.
func (g *FrameGate) Release() {
	select {
	case <-g.slot:
	default:
	}
}

// InFlight reports whether a frame currently holds the slot.
func (g *FrameGate) InFlight() bool {
	return len(g.slot) > 0
}
