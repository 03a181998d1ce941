package capture

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/video-system/go-gpu-capture/pkg/session"
)

// Config holds all capture configuration
type Config struct {
	Sources []SourceConfig `yaml:"sources"`
	API     APIConfig      `yaml:"api"`
}

// SourceConfig configures one capture source
type SourceConfig struct {
	ID        string `yaml:"id"`        // Source identifier (used in logs and stats)
	Location  string `yaml:"location"`  // back, front
	Preset    string `yaml:"preset"`    // low, medium, high, photo
	Framerate int    `yaml:"framerate"` // 30, 60
	Device    string `yaml:"device"`    // Explicit device ID (overrides location)
	Mode      string `yaml:"mode"`      // yuv (default), rgba
}

// APIConfig configures the stats API
type APIConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Set defaults
	if len(cfg.Sources) == 0 {
		cfg.Sources = []SourceConfig{{ID: "camera", Location: "back"}}
	}
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.ID == "" {
			src.ID = fmt.Sprintf("camera-%d", i)
		}
		if src.Preset == "" {
			src.Preset = "high"
		}
		if src.Framerate == 0 {
			src.Framerate = 30
		}
		if src.Mode == "" {
			src.Mode = "yuv"
		}
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}

	return &cfg, nil
}

// ParsePreset parses a config-file preset value.
func ParsePreset(s string) (session.Preset, error) {
	switch s {
	case "low":
		return session.PresetLow, nil
	case "medium":
		return session.PresetMedium, nil
	case "high", "":
		return session.PresetHigh, nil
	case "photo":
		return session.PresetPhoto, nil
	default:
		return session.PresetHigh, fmt.Errorf("unknown preset %q", s)
	}
}

// ParseMode parses a config-file capture mode value.
func ParseMode(s string) (rgba bool, err error) {
	switch s {
	case "yuv", "":
		return false, nil
	case "rgba":
		return true, nil
	default:
		return false, fmt.Errorf("unknown capture mode %q", s)
	}
}

// SourceOptions converts a source config entry to construction options.
func (sc SourceConfig) SourceOptions() (Options, error) {
	loc, err := ParseLocation(sc.Location)
	if err != nil {
		return Options{}, fmt.Errorf("source %s: %w", sc.ID, err)
	}
	preset, err := ParsePreset(sc.Preset)
	if err != nil {
		return Options{}, fmt.Errorf("source %s: %w", sc.ID, err)
	}
	rgba, err := ParseMode(sc.Mode)
	if err != nil {
		return Options{}, fmt.Errorf("source %s: %w", sc.ID, err)
	}
	return Options{
		ID:        sc.ID,
		Location:  loc,
		Preset:    preset,
		Framerate: sc.Framerate,
		DeviceID:  sc.Device,
		RGBA:      rgba,
	}, nil
}
