package capture

import (
	"sync"
	"time"
)

// benchmarkWarmupFrames is how many initial frames the running average
// ignores: the first few frames pay one-off costs (pipeline warmup, pool
// population) that would skew a steady-state number.
const benchmarkWarmupFrames = 5

// Benchmark keeps a running average of per-frame processing wall time,
// ignoring the warmup frames.
type Benchmark struct {
	mu     sync.Mutex
	frames uint64
	total  time.Duration
}

// Record adds one completed frame's wall time.
func (b *Benchmark) Record(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames++
	if b.frames > benchmarkWarmupFrames {
		b.total += d
	}
}

// Average returns the mean frame time over recorded frames past warmup,
// zero until any have completed.
func (b *Benchmark) Average() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	counted := b.frames
	if counted <= benchmarkWarmupFrames {
		return 0
	}
	return b.total / time.Duration(counted-benchmarkWarmupFrames)
}

// Frames returns the total number of recorded frames, warmup included.
func (b *Benchmark) Frames() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

// FPSCounter counts completed frames per rolling one-second window.
type FPSCounter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	last        int
}

// Tick records one completed frame at now. When a one-second window
// closes it returns that window's frame count and true.
func (f *FPSCounter) Tick(now time.Time) (fps int, rolled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.windowStart.IsZero() {
		f.windowStart = now
	}
	if now.Sub(f.windowStart) >= time.Second {
		f.last = f.count
		f.count = 1
		f.windowStart = now
		return f.last, true
	}
	f.count++
	return 0, false
}

// Last returns the most recently completed window's frame count.
func (f *FPSCounter) Last() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
