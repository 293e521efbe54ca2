package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/hybridrt/engine/core"
)

type Backend string

const (
	BackendHeadless Backend = "headless"
	BackendVulkan   Backend = "vulkan"
)

type ApplicationConfig struct {
	Name     string `toml:"name"`
	Width    uint32 `toml:"width"`
	Height   uint32 `toml:"height"`
	LogLevel string `toml:"log_level"`
}

type RendererConfig struct {
	Backend        Backend `toml:"backend"`
	FramesInFlight int     `toml:"frames_in_flight"`
	AsyncASUpdate  bool    `toml:"async_as_update"`
	VSync          bool    `toml:"vsync"`
	// Validation enables the Vulkan validation layer.
	Validation bool `toml:"validation"`
	// Frames rendered by a headless run; 0 renders until the window closes.
	Frames int `toml:"frames"`
}

type FeaturesConfig struct {
	Shadows            bool `toml:"shadows"`
	AmbientOcclusion   bool `toml:"ambient_occlusion"`
	Reflections        bool `toml:"reflections"`
	HalfResReflections bool `toml:"half_res_reflections"`
	UI                 bool `toml:"ui"`
	Animate            bool `toml:"animate"`
	Accumulate         bool `toml:"accumulate"`
	// Refit updates the top level structure in place; otherwise it is
	// rebuilt every animated frame.
	Refit bool `toml:"refit"`
}

type RayTracingConfig struct {
	ShadowSamples      uint32  `toml:"shadow_samples"`
	AOSamples          uint32  `toml:"ao_samples"`
	AORadius           float32 `toml:"ao_radius"`
	RoughnessThreshold float32 `toml:"roughness_threshold"`
	MaxRecursion       uint32  `toml:"max_recursion"`
}

type ShadersConfig struct {
	Dir   string `toml:"dir"`
	Watch bool   `toml:"watch"`
}

type SceneConfig struct {
	// Empty selects the built-in scene.
	Path string `toml:"path"`
}

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Renderer    RendererConfig    `toml:"renderer"`
	Features    FeaturesConfig    `toml:"features"`
	RayTracing  RayTracingConfig  `toml:"raytracing"`
	Shaders     ShadersConfig     `toml:"shaders"`
	Scene       SceneConfig       `toml:"scene"`
}

func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:     "hybridrt",
			Width:    1280,
			Height:   720,
			LogLevel: "info",
		},
		Renderer: RendererConfig{
			Backend:        BackendHeadless,
			FramesInFlight: 2,
			VSync:          true,
			Frames:         120,
		},
		Features: FeaturesConfig{
			Shadows:          true,
			AmbientOcclusion: true,
			Reflections:      true,
			UI:               true,
			Animate:          true,
			Accumulate:       true,
			Refit:            true,
		},
		RayTracing: RayTracingConfig{
			ShadowSamples:      1,
			AOSamples:          4,
			AORadius:           1,
			RoughnessThreshold: 0.3,
			MaxRecursion:       2,
		},
		Shaders: ShadersConfig{
			Dir: "assets/shaders",
		},
	}
}

// Load overlays the file at path on top of Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err := fmt.Errorf("func Load - cannot read config %s: %w", path, err)
		core.LogError(err.Error())
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	d := toml.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()
	if err := d.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: %v: %w", err, core.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("config: %s: %w", fmt.Sprintf(format, args...), core.ErrInvalidConfig)
	}
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return invalid("window size %dx%d", c.Application.Width, c.Application.Height)
	}
	switch c.Application.LogLevel {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return invalid("unknown log level %q", c.Application.LogLevel)
	}
	switch c.Renderer.Backend {
	case BackendHeadless, BackendVulkan:
	default:
		return invalid("unknown backend %q", c.Renderer.Backend)
	}
	if c.Renderer.FramesInFlight < 2 || c.Renderer.FramesInFlight > 3 {
		return invalid("frames_in_flight must be 2 or 3, got %d", c.Renderer.FramesInFlight)
	}
	if c.Renderer.Frames < 0 {
		return invalid("frames must not be negative")
	}
	if c.Renderer.Backend == BackendHeadless && c.Renderer.Frames == 0 {
		return invalid("a headless run needs a frame count")
	}
	if c.RayTracing.AORadius <= 0 {
		return invalid("ao_radius must be positive")
	}
	if c.RayTracing.RoughnessThreshold < 0 || c.RayTracing.RoughnessThreshold > 1 {
		return invalid("roughness_threshold must be within [0, 1]")
	}
	if c.RayTracing.MaxRecursion < 1 {
		return invalid("max_recursion must be at least 1")
	}
	if c.Features.HalfResReflections && !c.Features.Reflections {
		core.LogWarn("half_res_reflections has no effect while reflections are disabled")
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
