package capture

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/video-system/go-gpu-capture/pkg/gpu"
)

// Manager orchestrates multiple capture sources on one shared GPU context
type Manager struct {
	cfg    *Config
	gpuCtx *gpu.Context

	mu      sync.RWMutex
	sources map[string]*CaptureSource

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager builds every configured source. The GPU context is owned by
// the caller and shared across all sources; the manager never closes it.
func NewManager(cfg *Config, gpuCtx *gpu.Context) (*Manager, error) {
	m := &Manager{
		cfg:     cfg,
		gpuCtx:  gpuCtx,
		sources: make(map[string]*CaptureSource),
	}

	for _, sc := range cfg.Sources {
		opts, err := sc.SourceOptions()
		if err != nil {
			m.Close()
			return nil, err
		}
		src, err := NewCaptureSource(gpuCtx, opts)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("create source %s: %w", sc.ID, err)
		}
		m.sources[src.ID()] = src
		log.Printf("Source configured: %s", src.ID())
	}

	return m, nil
}

// Start starts all sources
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	log.Printf("Starting %d source(s)", len(m.sources))

	for id, src := range m.sources {
		if err := src.Start(); err != nil {
			log.Printf("Warning: failed to start source %s: %v", id, err)
			// Continue with other sources
		}
	}

	return nil
}

// Stop stops all sources
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	for _, src := range m.sources {
		src.Stop()
	}
	log.Printf("All sources stopped")
}

// Close stops and closes all sources. The shared GPU context is left to
// its owner.
func (m *Manager) Close() {
	for _, src := range m.sources {
		src.Close()
	}
}

// Wait blocks until the start context is cancelled
func (m *Manager) Wait() {
	<-m.ctx.Done()
}

// GetSource returns a source by ID
func (m *Manager) GetSource(id string) (*CaptureSource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	return src, ok
}

// ListSources returns all source IDs
func (m *Manager) ListSources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sources))
	for id := range m.sources {
		ids = append(ids, id)
	}
	return ids
}

// GetAllStats returns stats for all sources (implements api.SourceManager)
func (m *Manager) GetAllStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]interface{})
	for id, src := range m.sources {
		stats[id] = src.Stats()
	}
	return stats
}

// GetSourceStats returns stats for one source (implements api.SourceManager)
func (m *Manager) GetSourceStats(id string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	if !ok {
		return nil, false
	}
	return src.Stats(), true
}

// PoolStats returns the shared framebuffer pool counters (implements
// api.SourceManager)
func (m *Manager) PoolStats() interface{} {
	return m.gpuCtx.Pool().Stats()
}

// SourceCount returns the number of configured sources
func (m *Manager) SourceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sources)
}
