// Package gpu provides the serialized GPU processing context shared by all
// producers and consumers in a capture graph: a run loop owning a wgpu
// device and queue, a pool of reusable framebuffers, a texture cache for
// direct plane uploads, and the YUV to RGB conversion pass used by camera
// sources.
package gpu

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import the Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

var (
	// ErrContextClosed is returned when submitting work to a closed context.
	ErrContextClosed = errors.New("gpu: context closed")

	// ErrNoAdapter is returned when no GPU adapter is available.
	ErrNoAdapter = errors.New("gpu: no GPU adapters found")
)

// taskQueueDepth bounds the number of pending run-loop submissions.
// Producers are expected to apply their own backpressure (see
// capture.FrameGate); the queue only absorbs short bursts.
const taskQueueDepth = 64

// Context serializes all GPU work onto a single run-loop goroutine.
// wgpu device state (texture binds, pipeline state, submissions) must not
// be mutated concurrently, so every GPU-touching call in the process goes
// through RunAsync or RunSync on one shared Context.
//
// A Context is created once and handed to every component that needs GPU
// access; components must not reach for a process global.
type Context struct {
	device hal.Device
	queue  hal.Queue

	// Set only when the context opened the device itself.
	instance   hal.Instance
	ownsDevice bool

	pool *FramebufferPool

	tasks chan func()
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once

	probeOnce    sync.Once
	cacheCapable bool
}

// NewContext opens the first usable adapter on the Vulkan backend and
// starts the run loop. Prefers discrete and integrated GPUs over software
// adapters.
func NewContext() (*Context, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("gpu: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("gpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpu: open device: %w", err)
	}

	c := newContext(openDev.Device, openDev.Queue)
	c.instance = instance
	c.ownsDevice = true
	log.Printf("gpu: adapter %q (%v)", selected.Info.Name, selected.Info.DeviceType)
	return c, nil
}

// NewContextWith wraps an externally owned device and queue and starts the
// run loop. The caller keeps ownership of the device; Close will not
// destroy it.
func NewContextWith(device hal.Device, queue hal.Queue) *Context {
	return newContext(device, queue)
}

func newContext(device hal.Device, queue hal.Queue) *Context {
	c := &Context{
		device: device,
		queue:  queue,
		tasks:  make(chan func(), taskQueueDepth),
		done:   make(chan struct{}),
	}
	c.pool = newFramebufferPool(c)
	go c.run()
	return c
}

func (c *Context) run() {
	for f := range c.tasks {
		f()
	}
	close(c.done)
}

// RunAsync submits f to the run loop and returns without waiting for it.
func (c *Context) RunAsync(f func()) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrContextClosed
	}
	c.tasks <- f
	return nil
}

// RunSync submits f to the run loop and waits for it to finish. Must not
// be called from the run loop itself.
func (c *Context) RunSync(f func()) error {
	ran := make(chan struct{})
	if err := c.RunAsync(func() {
		f()
		close(ran)
	}); err != nil {
		return err
	}
	<-ran
	return nil
}

// Device returns the underlying device. GPU calls against it must be made
// from the run loop.
func (c *Context) Device() hal.Device { return c.device }

// Queue returns the underlying submission queue. GPU calls against it must
// be made from the run loop.
func (c *Context) Queue() hal.Queue { return c.queue }

// Pool returns the shared framebuffer pool.
func (c *Context) Pool() *FramebufferPool { return c.pool }

// SupportsTextureCache reports whether single and dual channel plane
// textures can be created on this device, which the zero-copy texture
// cache path requires. Probed once, on first call.
func (c *Context) SupportsTextureCache() bool {
	c.probeOnce.Do(func() {
		_ = c.RunSync(func() {
			c.cacheCapable = c.probePlaneFormats()
		})
	})
	return c.cacheCapable
}

func (c *Context) probePlaneFormats() bool {
	for _, format := range []gputypes.TextureFormat{
		gputypes.TextureFormatR8Unorm,
		gputypes.TextureFormatRG8Unorm,
	} {
		tex, err := c.device.CreateTexture(&hal.TextureDescriptor{
			Label:         "plane-probe",
			Size:          hal.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        format,
			Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		})
		if err != nil {
			return false
		}
		c.device.DestroyTexture(tex)
	}
	return true
}

// WaitIdle drains the run loop and blocks until all submitted GPU work has
// completed on the device.
func (c *Context) WaitIdle() {
	_ = c.RunSync(func() {
		if err := c.device.WaitIdle(); err != nil {
			log.Printf("gpu: wait idle: %v", err)
		}
	})
}

// Close waits for outstanding GPU work, stops the run loop and releases
// pooled resources. Devices opened by NewContext are destroyed; devices
// passed to NewContextWith are left to their owner. Idempotent.
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		c.WaitIdle()

		c.mu.Lock()
		c.closed = true
		close(c.tasks)
		c.mu.Unlock()
		<-c.done

		// The run loop has exited; device calls are safe from here.
		c.pool.drain()

		if c.ownsDevice {
			c.device.Destroy()
			if c.instance != nil {
				c.instance.Destroy()
			}
		}
	})
}
