package gpu

import (
	"testing"

	"github.com/gogpu/gputypes"
)

func TestTextureCacheReusesEntryPerGeometry(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	cache := NewTextureCache(ctx)
	defer func() { _ = ctx.RunSync(cache.Flush) }()

	size := Size{Width: 64, Height: 48}
	data := make([]byte, size.Width*size.Height)

	var first, second, other *CachedTexture
	_ = ctx.RunSync(func() {
		first, _ = cache.Bind(size, gputypes.TextureFormatR8Unorm, data, size.Width)
		second, _ = cache.Bind(size, gputypes.TextureFormatR8Unorm, data, size.Width)
		other, _ = cache.Bind(size.Half(), gputypes.TextureFormatRG8Unorm,
			make([]byte, size.Half().Width*size.Half().Height*2), size.Half().Width*2)
	})

	if first == nil || second == nil || other == nil {
		t.Fatal("Bind returned nil entry")
	}
	if first != second {
		t.Error("same geometry did not reuse the cached texture")
	}
	if other == first {
		t.Error("different geometry shared a cache entry")
	}
	if first.Size() != size {
		t.Errorf("entry size = %v, want %v", first.Size(), size)
	}
	if first.View() == nil {
		t.Error("cached texture has no view")
	}
}

func TestTextureCacheFlushDropsEntries(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	cache := NewTextureCache(ctx)

	size := Size{Width: 16, Height: 16}
	data := make([]byte, size.Width*size.Height)
	_ = ctx.RunSync(func() {
		_, _ = cache.Bind(size, gputypes.TextureFormatR8Unorm, data, size.Width)
		cache.Flush()
	})

	if len(cache.entries) != 0 {
		t.Errorf("entries remain after flush: %d", len(cache.entries))
	}
}
