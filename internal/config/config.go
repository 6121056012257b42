package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/scango/internal/logic/geometry"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 64 * 1024

// Camera backend types.
const (
	CameraSimulated = "simulated"
	CameraV4L2      = "v4l2"
	CameraScreen    = "screen"
)

// CameraConfig describes how to reach the camera and its accessories.
// Type selects a concrete backend (simulated, v4l2, screen).
type CameraConfig struct {
	Type            string          `yaml:"type" toml:"type"`                           // simulated | v4l2 | screen
	Device          string          `yaml:"device" toml:"device"`                       // e.g. /dev/video0
	LockFile        string          `yaml:"lock_file" toml:"lock_file"`                 // exclusive-ownership lock; "" = derived from device
	FPS             int             `yaml:"fps" toml:"fps"`                             // requested frame rate
	SupportedSizes  []geometry.Size `yaml:"supported_sizes" toml:"supported_sizes"`     // preview sizes the device offers
	DefaultSize     geometry.Size   `yaml:"default_size" toml:"default_size"`           // device default preview size
	TorchPin        int             `yaml:"torch_pin" toml:"torch_pin"`                 // GPIO pin (BCM) driving the torch LED, 0 = none
	FocusPin        int             `yaml:"focus_pin" toml:"focus_pin"`                 // GPIO pin (BCM) for the focus trigger, 0 = none
	FocusDelayMs    int             `yaml:"focus_delay_ms" toml:"focus_delay_ms"`       // focus trigger hold time (ms)
	FrameIntervalMs int             `yaml:"frame_interval_ms" toml:"frame_interval_ms"` // simulated backend frame period (ms)
	SourceImage     string          `yaml:"source_image" toml:"source_image"`           // simulated backend: image replayed as frames
}

// ScreenConfig is the resolution of the surface the preview is drawn on.
type ScreenConfig struct {
	Width  int `yaml:"width" toml:"width"`
	Height int `yaml:"height" toml:"height"`
}

// GeometryConfig bounds preview selection and the scan rectangle.
type GeometryConfig struct {
	MinPreviewPixels int `yaml:"min_preview_pixels" toml:"min_preview_pixels"`
	MaxPreviewPixels int `yaml:"max_preview_pixels" toml:"max_preview_pixels"`
	MinFrameWidth    int `yaml:"min_frame_width" toml:"min_frame_width"`
	MaxFrameWidth    int `yaml:"max_frame_width" toml:"max_frame_width"`
	MinFrameHeight   int `yaml:"min_frame_height" toml:"min_frame_height"`
	MaxFrameHeight   int `yaml:"max_frame_height" toml:"max_frame_height"`
	ManualWidth      int `yaml:"manual_width" toml:"manual_width"`   // 0 = computed scan rect
	ManualHeight     int `yaml:"manual_height" toml:"manual_height"` // 0 = computed scan rect
}

// PipelineConfig holds the coordinator timings.
type PipelineConfig struct {
	FocusIntervalMs   int `yaml:"focus_interval_ms" toml:"focus_interval_ms"`     // delay between focus attempts
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms" toml:"shutdown_timeout_ms"` // max wait for the decode worker on shutdown
	ReadyTimeoutMs    int `yaml:"ready_timeout_ms" toml:"ready_timeout_ms"`       // max wait for the decode worker to start
	RescanDelayMs     int `yaml:"rescan_delay_ms" toml:"rescan_delay_ms"`         // continuous mode: delay before restarting after a match
	FrameRetryMs      int `yaml:"frame_retry_ms" toml:"frame_retry_ms"`           // backoff after the camera refuses a frame request
}

// DecodeConfig selects what the decoder looks for.
type DecodeConfig struct {
	Formats      []string `yaml:"formats" toml:"formats"`             // empty = product + 1D + QR
	TryHarder    bool     `yaml:"try_harder" toml:"try_harder"`       // spend more time per frame
	CharacterSet string   `yaml:"character_set" toml:"character_set"` // e.g. "UTF-8"
}

// StoreConfig locates the match history database.
type StoreConfig struct {
	Path string `yaml:"path" toml:"path"` // "" disables history
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level" toml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio" toml:"mock_gpio"`     // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera" toml:"camera"`
	Screen   ScreenConfig   `yaml:"screen" toml:"screen"`
	Geometry GeometryConfig `yaml:"geometry" toml:"geometry"`
	Pipeline PipelineConfig `yaml:"pipeline" toml:"pipeline"`
	Decode   DecodeConfig   `yaml:"decode" toml:"decode"`
	Store    StoreConfig    `yaml:"store" toml:"store"`
	Defaults DefaultsConfig `yaml:"defaults" toml:"defaults"`
}

// ValidateConfigPath checks that path points at a .yaml or .toml file
// directly inside a configs/ directory and does not traverse upwards.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".toml" {
		return fmt.Errorf("config path %q must end in .yaml or .toml", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML or TOML file (chosen by extension) and returns the
// configuration with defaults applied.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch filepath.Ext(path) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration using the simulated camera and stock values.
func Default() *Config {
	cfg := &Config{Camera: CameraConfig{Type: CameraSimulated}, Defaults: DefaultsConfig{DebugLevel: 1, MockGPIO: true}}
	_ = cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() error {
	// Basic validation
	switch c.Camera.Type {
	case CameraSimulated, CameraV4L2, CameraScreen:
	case "":
		return fmt.Errorf("camera.type is required")
	default:
		return fmt.Errorf("unsupported camera.type %q", c.Camera.Type)
	}
	if c.Camera.Type == CameraV4L2 && c.Camera.Device == "" {
		c.Camera.Device = "/dev/video0"
	}
	if c.Camera.FPS <= 0 {
		c.Camera.FPS = 15
	}
	if c.Camera.FocusDelayMs <= 0 {
		c.Camera.FocusDelayMs = 500 // 500ms focus trigger hold
	}
	if c.Camera.FrameIntervalMs <= 0 {
		c.Camera.FrameIntervalMs = 66 // ~15 fps
	}
	if c.Camera.DefaultSize.IsZero() {
		c.Camera.DefaultSize = geometry.Size{Width: 640, Height: 480}
	}
	if len(c.Camera.SupportedSizes) == 0 {
		c.Camera.SupportedSizes = []geometry.Size{
			{Width: 1280, Height: 720},
			{Width: 800, Height: 480},
			{Width: 640, Height: 480},
			{Width: 320, Height: 240},
		}
	}

	if c.Screen.Width <= 0 || c.Screen.Height <= 0 {
		c.Screen = ScreenConfig{Width: 1920, Height: 1080}
	}

	def := geometry.DefaultLimits()
	g := &c.Geometry
	if g.MinPreviewPixels <= 0 {
		g.MinPreviewPixels = def.MinPreviewPixels
	}
	if g.MaxPreviewPixels <= 0 {
		g.MaxPreviewPixels = def.MaxPreviewPixels
	}
	if g.MinFrameWidth <= 0 {
		g.MinFrameWidth = def.MinFrameWidth
	}
	if g.MaxFrameWidth <= 0 {
		g.MaxFrameWidth = def.MaxFrameWidth
	}
	if g.MinFrameHeight <= 0 {
		g.MinFrameHeight = def.MinFrameHeight
	}
	if g.MaxFrameHeight <= 0 {
		g.MaxFrameHeight = def.MaxFrameHeight
	}
	if g.MinPreviewPixels > g.MaxPreviewPixels {
		return fmt.Errorf("geometry.min_preview_pixels (%d) must be <= max_preview_pixels (%d)", g.MinPreviewPixels, g.MaxPreviewPixels)
	}
	if g.MinFrameWidth > g.MaxFrameWidth {
		return fmt.Errorf("geometry.min_frame_width (%d) must be <= max_frame_width (%d)", g.MinFrameWidth, g.MaxFrameWidth)
	}
	if g.MinFrameHeight > g.MaxFrameHeight {
		return fmt.Errorf("geometry.min_frame_height (%d) must be <= max_frame_height (%d)", g.MinFrameHeight, g.MaxFrameHeight)
	}
	if g.ManualWidth < 0 || g.ManualHeight < 0 {
		return fmt.Errorf("geometry.manual_width/manual_height must be >= 0")
	}

	if c.Pipeline.FocusIntervalMs <= 0 {
		c.Pipeline.FocusIntervalMs = 1500
	}
	if c.Pipeline.ShutdownTimeoutMs <= 0 {
		c.Pipeline.ShutdownTimeoutMs = 500
	}
	if c.Pipeline.ReadyTimeoutMs <= 0 {
		c.Pipeline.ReadyTimeoutMs = 2000
	}
	if c.Pipeline.FrameRetryMs <= 0 {
		c.Pipeline.FrameRetryMs = 100
	}
	if c.Pipeline.RescanDelayMs < 0 {
		return fmt.Errorf("pipeline.rescan_delay_ms must be >= 0, got %d", c.Pipeline.RescanDelayMs)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// Limits returns the geometry bounds.
func (c *Config) Limits() geometry.Limits {
	return geometry.Limits{
		MinPreviewPixels: c.Geometry.MinPreviewPixels,
		MaxPreviewPixels: c.Geometry.MaxPreviewPixels,
		MinFrameWidth:    c.Geometry.MinFrameWidth,
		MaxFrameWidth:    c.Geometry.MaxFrameWidth,
		MinFrameHeight:   c.Geometry.MinFrameHeight,
		MaxFrameHeight:   c.Geometry.MaxFrameHeight,
	}
}

// ScreenSize returns the configured screen resolution.
func (c *Config) ScreenSize() geometry.Size {
	return geometry.Size{Width: c.Screen.Width, Height: c.Screen.Height}
}

// LockPath returns the exclusive-ownership lock file for the camera.
func (c *Config) LockPath() string {
	if c.Camera.LockFile != "" {
		return c.Camera.LockFile
	}
	name := c.Camera.Type
	if c.Camera.Device != "" {
		name = filepath.Base(c.Camera.Device)
	}
	return filepath.Join(os.TempDir(), "scango-"+name+".lock")
}

// FocusDelay returns the focus trigger hold time.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// FrameInterval returns the simulated backend frame period.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Camera.FrameIntervalMs) * time.Millisecond
}

// FocusInterval returns the delay between two focus attempts.
func (c *Config) FocusInterval() time.Duration {
	return time.Duration(c.Pipeline.FocusIntervalMs) * time.Millisecond
}

// ShutdownTimeout returns the bounded wait for the decode worker on shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Pipeline.ShutdownTimeoutMs) * time.Millisecond
}

// ReadyTimeout returns the bounded wait for the decode worker to start.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Pipeline.ReadyTimeoutMs) * time.Millisecond
}

// FrameRetry returns the backoff before re-requesting a refused frame.
func (c *Config) FrameRetry() time.Duration {
	return time.Duration(c.Pipeline.FrameRetryMs) * time.Millisecond
}

// RescanDelay returns the delay before restarting after a match in continuous mode.
func (c *Config) RescanDelay() time.Duration {
	return time.Duration(c.Pipeline.RescanDelayMs) * time.Millisecond
}
