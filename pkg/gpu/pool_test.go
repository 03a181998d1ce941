package gpu

import (
	"testing"

	"github.com/gogpu/gputypes"
)

func poolGet(t *testing.T, ctx *Context, size Size, orient Orientation, textureOnly bool) *Framebuffer {
	t.Helper()
	var fb *Framebuffer
	var err error
	if runErr := ctx.RunSync(func() {
		fb, err = ctx.Pool().Get(size, orient, textureOnly, gputypes.TextureFormatRGBA8Unorm)
	}); runErr != nil {
		t.Fatalf("RunSync failed: %v", runErr)
	}
	if err != nil {
		t.Fatalf("pool Get failed: %v", err)
	}
	return fb
}

func TestPoolReusesReleasedBuffer(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	size := Size{Width: 64, Height: 48}
	first := poolGet(t, ctx, size, OrientationPortrait, false)
	first.Unlock()

	second := poolGet(t, ctx, size, OrientationPortrait, false)
	if second != first {
		t.Fatal("expected released buffer to be reused")
	}
	second.Unlock()

	stats := ctx.Pool().Stats()
	if stats.Created != 1 {
		t.Errorf("created = %d, want 1", stats.Created)
	}
	if stats.Reused != 1 {
		t.Errorf("reused = %d, want 1", stats.Reused)
	}
	if stats.Outstanding != 0 {
		t.Errorf("outstanding = %d, want 0", stats.Outstanding)
	}
	if stats.Idle != 1 {
		t.Errorf("idle = %d, want 1", stats.Idle)
	}
}

func TestPoolSeparatesAllocationClasses(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	size := Size{Width: 32, Height: 32}
	renderable := poolGet(t, ctx, size, OrientationPortrait, false)
	renderable.Unlock()

	textureOnly := poolGet(t, ctx, size, OrientationPortrait, true)
	if textureOnly == renderable {
		t.Fatal("texture-only request must not reuse a renderable buffer")
	}
	textureOnly.Unlock()

	rotated := poolGet(t, ctx, size, OrientationLandscapeRight, false)
	if rotated == renderable {
		t.Fatal("different orientation must not share buffers")
	}
	rotated.Unlock()
}

func TestPoolHeldBufferNotReused(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	size := Size{Width: 16, Height: 16}
	held := poolGet(t, ctx, size, OrientationPortrait, false)

	other := poolGet(t, ctx, size, OrientationPortrait, false)
	if other == held {
		t.Fatal("locked buffer handed out twice")
	}

	stats := ctx.Pool().Stats()
	if stats.Outstanding != 2 {
		t.Errorf("outstanding = %d, want 2", stats.Outstanding)
	}
	held.Unlock()
	other.Unlock()
}

func TestFramebufferSharedReferenceReturnsOnLastUnlock(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	size := Size{Width: 8, Height: 8}
	fb := poolGet(t, ctx, size, OrientationPortrait, false)
	fb.Lock() // second holder

	fb.Unlock()
	if got := ctx.Pool().Stats().Idle; got != 0 {
		t.Fatalf("buffer returned to pool while still held (idle=%d)", got)
	}
	fb.Unlock()
	if got := ctx.Pool().Stats().Idle; got != 1 {
		t.Fatalf("buffer not returned after last unlock (idle=%d)", got)
	}
}

func TestFramebufferUnlockPastZeroPanics(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	fb := poolGet(t, ctx, Size{Width: 8, Height: 8}, OrientationPortrait, false)
	fb.Unlock()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unbalanced unlock")
		}
	}()
	fb.Unlock()
}

func TestFramebufferTimingResetOnReuse(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	size := Size{Width: 8, Height: 8}
	fb := poolGet(t, ctx, size, OrientationPortrait, false)
	fb.SetTiming(VideoFrameTiming(1234))
	fb.Unlock()

	again := poolGet(t, ctx, size, OrientationPortrait, false)
	defer again.Unlock()
	if again.Timing().Kind != TimingNone {
		t.Fatalf("reused buffer carries stale timing %+v", again.Timing())
	}
}
