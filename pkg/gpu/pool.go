package gpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// poolKey identifies a framebuffer allocation class. Buffers are reusable
// only within their class.
type poolKey struct {
	size        Size
	orientation Orientation
	textureOnly bool
	format      gputypes.TextureFormat
}

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	Created     uint64 `json:"created"`
	Reused      uint64 `json:"reused"`
	Outstanding int    `json:"outstanding"`
	Idle        int    `json:"idle"`
}

// FramebufferPool is a reusable-allocation source for GPU framebuffers,
// keyed by size, orientation, usage and format. The pool is process-wide
// per Context and shared with every producer and consumer in the graph.
type FramebufferPool struct {
	ctx *Context

	mu          sync.Mutex
	free        map[poolKey][]*Framebuffer
	created     uint64
	reused      uint64
	outstanding int
}

func newFramebufferPool(ctx *Context) *FramebufferPool {
	return &FramebufferPool{
		ctx:  ctx,
		free: make(map[poolKey][]*Framebuffer),
	}
}

// Get returns a locked framebuffer for the given allocation class, reusing
// an idle one when available. Device allocation happens here, so Get must
// be called from the context run loop. The caller owns one lock and must
// Unlock when done.
func (p *FramebufferPool) Get(size Size, orientation Orientation, textureOnly bool, format gputypes.TextureFormat) (*Framebuffer, error) {
	key := poolKey{size: size, orientation: orientation, textureOnly: textureOnly, format: format}

	p.mu.Lock()
	if list := p.free[key]; len(list) > 0 {
		fb := list[len(list)-1]
		p.free[key] = list[:len(list)-1]
		p.reused++
		p.outstanding++
		p.mu.Unlock()
		fb.timing = Timing{}
		fb.Lock()
		return fb, nil
	}
	p.created++
	p.outstanding++
	p.mu.Unlock()

	fb, err := p.alloc(key)
	if err != nil {
		p.mu.Lock()
		p.created--
		p.outstanding--
		p.mu.Unlock()
		return nil, err
	}
	fb.Lock()
	return fb, nil
}

func (p *FramebufferPool) alloc(key poolKey) (*Framebuffer, error) {
	usage := gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst
	if !key.textureOnly {
		// Renderable buffers are conversion-pass targets and may be read
		// back by downstream stages.
		usage |= gputypes.TextureUsageStorageBinding | gputypes.TextureUsageCopySrc
	}

	tex, err := p.ctx.device.CreateTexture(&hal.TextureDescriptor{
		Label: fmt.Sprintf("pool-%s", key.size),
		Size: hal.Extent3D{
			Width:              uint32(key.size.Width),
			Height:             uint32(key.size.Height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        key.format,
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create pooled texture %s: %w", key.size, err)
	}

	view, err := p.ctx.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         "pool-view",
		Format:        key.format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		p.ctx.device.DestroyTexture(tex)
		return nil, fmt.Errorf("gpu: create pooled texture view: %w", err)
	}

	return &Framebuffer{
		size:        key.size,
		orientation: key.orientation,
		textureOnly: key.textureOnly,
		format:      key.format,
		texture:     tex,
		view:        view,
		pool:        p,
	}, nil
}

// put returns a fully released framebuffer to the idle list. Called from
// Framebuffer.Unlock.
func (p *FramebufferPool) put(fb *Framebuffer) {
	key := poolKey{size: fb.size, orientation: fb.orientation, textureOnly: fb.textureOnly, format: fb.format}
	p.mu.Lock()
	p.free[key] = append(p.free[key], fb)
	p.outstanding--
	p.mu.Unlock()
}

// Stats returns a snapshot of pool counters.
func (p *FramebufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := 0
	for _, list := range p.free {
		idle += len(list)
	}
	return PoolStats{
		Created:     p.created,
		Reused:      p.reused,
		Outstanding: p.outstanding,
		Idle:        idle,
	}
}

// drain destroys all idle framebuffers. Called during context teardown,
// after the run loop has stopped.
func (p *FramebufferPool) drain() {
	p.mu.Lock()
	free := p.free
	p.free = make(map[poolKey][]*Framebuffer)
	p.mu.Unlock()

	for _, list := range free {
		for _, fb := range list {
			fb.destroy(p.ctx.device)
		}
	}
}
