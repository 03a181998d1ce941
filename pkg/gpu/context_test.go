package gpu

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// newTestContext creates a context on the noop backend. Returns the
// context and a cleanup function.
func newTestContext(t *testing.T) (*Context, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		t.Fatal("no noop adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	ctx := NewContextWith(openDev.Device, openDev.Queue)
	cleanup := func() {
		ctx.Close()
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return ctx, cleanup
}

func TestRunSyncObservesEarlierAsyncWork(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		if err := ctx.RunAsync(func() { order = append(order, i) }); err != nil {
			t.Fatalf("RunAsync failed: %v", err)
		}
	}
	var after bool
	if err := ctx.RunSync(func() { after = len(order) == 10 }); err != nil {
		t.Fatalf("RunSync failed: %v", err)
	}
	if !after {
		t.Fatalf("RunSync ran before queued work drained: %d of 10", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("tasks ran out of order: %v", order)
		}
	}
}

func TestRunAsyncAfterClose(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	ctx.Close()
	if err := ctx.RunAsync(func() {}); err != ErrContextClosed {
		t.Fatalf("expected ErrContextClosed, got %v", err)
	}
	if err := ctx.RunSync(func() {}); err != ErrContextClosed {
		t.Fatalf("expected ErrContextClosed from RunSync, got %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	ctx.Close()
	ctx.Close()
	ctx.Close()
}

func TestSupportsTextureCacheProbesOnce(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	first := ctx.SupportsTextureCache()
	if !first {
		t.Fatal("noop device should support plane textures")
	}
	if second := ctx.SupportsTextureCache(); second != first {
		t.Fatal("probe result changed between calls")
	}
}

// failingTextureDevice makes every texture creation fail, leaving the
// rest of the device functional.
type failingTextureDevice struct {
	hal.Device
}

func (d *failingTextureDevice) CreateTexture(*hal.TextureDescriptor) (hal.Texture, error) {
	return nil, errTextureRefused
}

var errTextureRefused = &textureRefusedError{}

type textureRefusedError struct{}

func (*textureRefusedError) Error() string { return "texture creation refused" }

func TestSupportsTextureCacheFalseWhenPlaneFormatsFail(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	wrapped := NewContextWith(&failingTextureDevice{Device: ctx.Device()}, ctx.Queue())
	defer wrapped.Close()

	if wrapped.SupportsTextureCache() {
		t.Fatal("expected probe to fail on refusing device")
	}
}

func TestWaitIdleDrainsQueuedWork(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	ran := false
	if err := ctx.RunAsync(func() { ran = true }); err != nil {
		t.Fatalf("RunAsync failed: %v", err)
	}
	ctx.WaitIdle()
	if !ran {
		t.Fatal("WaitIdle returned before queued work ran")
	}
}
