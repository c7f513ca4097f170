package core

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that reads from TOML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type ApplicationSection struct {
	Name     string `toml:"name"`
	StartX   uint32 `toml:"start_x"`
	StartY   uint32 `toml:"start_y"`
	Width    uint32 `toml:"width"`
	Height   uint32 `toml:"height"`
	LogLevel string `toml:"log_level"`
}

type RendererSection struct {
	// Either "vulkan" or "soft".
	Backend          string     `toml:"backend"`
	FrameBufferCount uint32     `toml:"frame_buffer_count"`
	GPUWaitTimeout   Duration   `toml:"gpu_wait_timeout"`
	VSync            bool       `toml:"vsync"`
	ClearColor       [4]float32 `toml:"clear_color"`
}

type AssetsSection struct {
	Root   string   `toml:"root"`
	Models []string `toml:"models"`
	Watch  bool     `toml:"watch"`
}

type ShadersSection struct {
	Vertex      string `toml:"vertex"`
	OpaquePixel string `toml:"opaque_pixel"`
	AlphaPixel  string `toml:"alpha_pixel"`
	DXCPath     string `toml:"dxc_path"`
}

type Config struct {
	Application ApplicationSection `toml:"application"`
	Renderer    RendererSection    `toml:"renderer"`
	Assets      AssetsSection      `toml:"assets"`
	Shaders     ShadersSection     `toml:"shaders"`
}

func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationSection{
			Name:     "Ember",
			StartX:   100,
			StartY:   100,
			Width:    1280,
			Height:   720,
			LogLevel: "info",
		},
		Renderer: RendererSection{
			Backend:          "vulkan",
			FrameBufferCount: 2,
			GPUWaitTimeout:   Duration{10 * time.Second},
			VSync:            true,
			ClearColor:       [4]float32{0.1, 0.25, 0.5, 0.0},
		},
		Assets: AssetsSection{
			Root:   "assets",
			Models: []string{"models/Field.glb", "models/Player.glb", "models/Enemy.glb"},
			Watch:  true,
		},
		Shaders: ShadersSection{
			Vertex:      "shaders/shaderVS.hlsl",
			OpaquePixel: "shaders/shaderOpaquePS.hlsl",
			AlphaPixel:  "shaders/shaderAlphaPS.hlsl",
			DXCPath:     "dxc",
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig. Keys missing from the file keep
// their default value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return fmt.Errorf("invalid window size %dx%d", c.Application.Width, c.Application.Height)
	}
	switch c.Renderer.Backend {
	case "vulkan", "soft":
	default:
		return fmt.Errorf("unknown renderer backend %q", c.Renderer.Backend)
	}
	if c.Renderer.FrameBufferCount < 2 {
		return fmt.Errorf("frame_buffer_count must be at least 2, got %d", c.Renderer.FrameBufferCount)
	}
	if c.Renderer.GPUWaitTimeout.Duration <= 0 {
		return fmt.Errorf("gpu_wait_timeout must be positive")
	}
	return nil
}

func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
