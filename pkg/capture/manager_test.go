package capture

import (
	"context"
	"testing"

	"github.com/video-system/go-gpu-capture/pkg/session"
)

func TestManagerBuildsConfiguredSources(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()
	useDevices(t,
		&fakeDevice{id: "b", position: session.PositionBack, fullRange: true},
		&fakeDevice{id: "f", position: session.PositionFront},
	)

	cfg := &Config{
		Sources: []SourceConfig{
			{ID: "main", Location: "back", Preset: "low", Framerate: 30},
			{ID: "selfie", Location: "front", Preset: "low", Framerate: 30},
		},
	}
	m, err := NewManager(cfg, ctx)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	if m.SourceCount() != 2 {
		t.Fatalf("source count = %d, want 2", m.SourceCount())
	}
	if _, ok := m.GetSource("main"); !ok {
		t.Error("main source missing")
	}
	if _, ok := m.GetSource("selfie"); !ok {
		t.Error("selfie source missing")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stats := m.GetAllStats()
	if len(stats) != 2 {
		t.Errorf("stats for %d sources, want 2", len(stats))
	}
	if _, ok := m.GetSourceStats("main"); !ok {
		t.Error("no stats for main")
	}
	if _, ok := m.GetSourceStats("ghost"); ok {
		t.Error("stats for unknown source")
	}
	if m.PoolStats() == nil {
		t.Error("pool stats missing")
	}
	m.Stop()
}

func TestManagerFailsWhenNoDeviceForSource(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()
	useDevices(t) // empty backend

	cfg := &Config{Sources: []SourceConfig{{ID: "main", Location: "back", Preset: "low"}}}
	if _, err := NewManager(cfg, ctx); err == nil {
		t.Fatal("expected construction failure with no devices")
	}
}
