package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// TexturePlane is a GPU texture usable as a conversion-pass input. Both
// cached textures and pool framebuffers satisfy it.
type TexturePlane interface {
	View() hal.TextureView
}

type cacheKey struct {
	size   Size
	format gputypes.TextureFormat
}

// CachedTexture is a texture owned by a TextureCache. Its lifetime is
// bound to the cache entry: holders simply drop the reference when done,
// and the entry is rebound on the next frame of the same geometry.
type CachedTexture struct {
	size    Size
	format  gputypes.TextureFormat
	texture hal.Texture
	view    hal.TextureView
}

// Size returns the plane extent in pixels.
func (t *CachedTexture) Size() Size { return t.size }

// View returns the texture view for binding.
func (t *CachedTexture) View() hal.TextureView { return t.view }

// TextureCache is the fast path for getting captured plane bytes into GPU
// textures: plane data is written straight into a per-geometry cached
// texture, with no intermediate pool framebuffer. Entries are created on
// first use and reused for every following frame with the same extent and
// format.
//
// All methods must be called from the context run loop; the cache carries
// no locking of its own.
type TextureCache struct {
	ctx     *Context
	entries map[cacheKey]*CachedTexture
}

// NewTextureCache creates an empty cache on ctx.
func NewTextureCache(ctx *Context) *TextureCache {
	return &TextureCache{
		ctx:     ctx,
		entries: make(map[cacheKey]*CachedTexture),
	}
}

// Bind writes plane bytes into the cached texture for (size, format),
// creating the entry on first use. bytesPerRow is the source stride. The
// returned texture stays valid until the next Bind of the same geometry
// completes its GPU reads, which the serialized run loop guarantees.
func (tc *TextureCache) Bind(size Size, format gputypes.TextureFormat, data []byte, bytesPerRow int) (*CachedTexture, error) {
	key := cacheKey{size: size, format: format}
	entry, ok := tc.entries[key]
	if !ok {
		var err error
		entry, err = tc.createEntry(key)
		if err != nil {
			return nil, err
		}
		tc.entries[key] = entry
	}

	if err := tc.ctx.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  entry.texture,
			MipLevel: 0,
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(bytesPerRow),
			RowsPerImage: uint32(size.Height),
		},
		&hal.Extent3D{
			Width:              uint32(size.Width),
			Height:             uint32(size.Height),
			DepthOrArrayLayers: 1,
		},
	); err != nil {
		return nil, fmt.Errorf("gpu: upload plane %s: %w", key.size, err)
	}
	return entry, nil
}

func (tc *TextureCache) createEntry(key cacheKey) (*CachedTexture, error) {
	tex, err := tc.ctx.device.CreateTexture(&hal.TextureDescriptor{
		Label: fmt.Sprintf("texcache-%s", key.size),
		Size: hal.Extent3D{
			Width:              uint32(key.size.Width),
			Height:             uint32(key.size.Height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        key.format,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create cached texture %s: %w", key.size, err)
	}
	view, err := tc.ctx.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         "texcache-view",
		Format:        key.format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		tc.ctx.device.DestroyTexture(tex)
		return nil, fmt.Errorf("gpu: create cached texture view: %w", err)
	}
	return &CachedTexture{size: key.size, format: key.format, texture: tex, view: view}, nil
}

// Flush destroys all cached entries. Must be called from the run loop, or
// after it has stopped.
func (tc *TextureCache) Flush() {
	for key, entry := range tc.entries {
		tc.ctx.device.DestroyTextureView(entry.view)
		tc.ctx.device.DestroyTexture(entry.texture)
		delete(tc.entries, key)
	}
}
