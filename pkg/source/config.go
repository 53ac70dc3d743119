package source

import (
	"fmt"
	"time"
)

// Config holds frame source settings. Width, Height and FPS are requested
// from capture devices; drivers may pick the nearest mode they support.
type Config struct {
	// === Capture devices ===
	Width  int `json:"width"`  // Frame width in pixels, 0 for driver default
	Height int `json:"height"` // Frame height in pixels, 0 for driver default
	FPS    int `json:"fps"`    // Target frame rate, 0 for driver default

	// === HTTP snapshots ===
	// Snapshot forces http(s) URIs to be polled as single JPEG images
	// instead of being opened as a stream.
	Snapshot        bool          `json:"snapshot"`
	SnapshotTimeout time.Duration `json:"snapshot_timeout"`

	// === Image directories ===
	Loop bool `json:"loop"` // Restart from the first file after the last

	// === WebRTC ===
	// ConnectTimeout bounds signalling and the wait for the first video
	// track. It is also how long Read waits for a decoded frame.
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// Limits for requested capture modes.
const (
	MaxWidth  = 4096
	MaxHeight = 2160
	MaxFPS    = 120

	DefaultConnectTimeout = 15 * time.Second
)

// DefaultConfig returns 640x480 at 30 FPS.
func DefaultConfig() Config {
	return Config{
		Width:           640,
		Height:          480,
		FPS:             30,
		SnapshotTimeout: 5 * time.Second,
		ConnectTimeout:  DefaultConnectTimeout,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c Config) Validate() []string {
	var errs []string

	if c.Width != 0 && (c.Width < 160 || c.Width > MaxWidth) {
		errs = append(errs, fmt.Sprintf("width must be 0 or between 160 and %d", MaxWidth))
	}
	if c.Height != 0 && (c.Height < 120 || c.Height > MaxHeight) {
		errs = append(errs, fmt.Sprintf("height must be 0 or between 120 and %d", MaxHeight))
	}
	if c.FPS < 0 || c.FPS > MaxFPS {
		errs = append(errs, fmt.Sprintf("fps must be between 0 and %d", MaxFPS))
	}
	if c.SnapshotTimeout < 0 {
		errs = append(errs, "snapshot_timeout must not be negative")
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, "connect_timeout must not be negative")
	}

	return errs
}

// Preset names for common capture modes.
const (
	PresetDefault = "default"
	PresetQVGA    = "qvga"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
)

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{PresetDefault, PresetQVGA, Preset720p, Preset1080p}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	cfg := DefaultConfig()
	switch name {
	case PresetDefault:
	case PresetQVGA:
		// Cheap enough for a Raspberry Pi at full frame rate.
		cfg.Width, cfg.Height = 320, 240
	case Preset720p:
		cfg.Width, cfg.Height = 1280, 720
	case Preset1080p:
		cfg.Width, cfg.Height = 1920, 1080
		cfg.FPS = 15
	default:
		return nil
	}
	return &cfg
}
