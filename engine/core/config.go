package core

import (
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultMaxFramesInFlight     uint32 = 2
	DefaultMaxDescriptorsPerPool uint32 = 64
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type LogConfig struct {
	Level  string `toml:"level"`
	Prefix string `toml:"prefix"`
}

type RendererConfig struct {
	/** @brief Which backend creates the native objects: "null" or "vulkan". */
	Backend string `toml:"backend"`
	/** @brief Frames the GPU may still be consuming after submission. */
	MaxFramesInFlight uint32 `toml:"max_frames_in_flight"`
}

type DescriptorConfig struct {
	/** @brief Descriptor sets per pool chunk. */
	MaxDescriptorsPerPool uint32 `toml:"max_descriptors_per_pool"`
	/** @brief Upper bound of native pools per layout, 0 means unbounded. */
	MaxPoolsPerLayout uint32 `toml:"max_pools_per_layout"`
}

type AssetsConfig struct {
	Dir             string   `toml:"dir"`
	Workers         int      `toml:"workers"`
	QueueSize       int      `toml:"queue_size"`
	ReloadCacheSize int      `toml:"reload_cache_size"`
	RetryAttempts   int      `toml:"retry_attempts"`
	RetryDelay      Duration `toml:"retry_delay"`
}

type DebugConfig struct {
	StrictContracts bool `toml:"strict_contracts"`
}

type CLIConfig struct {
	Tick         Duration `toml:"tick"`
	MetricsEvery int      `toml:"metrics_every"`
}

type Config struct {
	Log         LogConfig        `toml:"log"`
	Renderer    RendererConfig   `toml:"renderer"`
	Descriptors DescriptorConfig `toml:"descriptors"`
	Assets      AssetsConfig     `toml:"assets"`
	Debug       DebugConfig      `toml:"debug"`
	CLI         CLIConfig        `toml:"cli"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Prefix: "Resources 🧱 ",
		},
		Renderer: RendererConfig{
			Backend:           "null",
			MaxFramesInFlight: DefaultMaxFramesInFlight,
		},
		Descriptors: DescriptorConfig{
			MaxDescriptorsPerPool: DefaultMaxDescriptorsPerPool,
		},
		Assets: AssetsConfig{
			Dir:             "assets",
			Workers:         4,
			QueueSize:       64,
			ReloadCacheSize: 256,
			RetryAttempts:   5,
			RetryDelay:      Duration{50 * time.Millisecond},
		},
		CLI: CLIConfig{
			Tick:         Duration{16 * time.Millisecond},
			MetricsEvery: 120,
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config %s", path)
	}
	defer f.Close()
	return ParseConfig(f)
}

func ParseConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding config"), ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Renderer.Backend {
	case "null", "vulkan":
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown renderer backend %q", c.Renderer.Backend)
	}
	if c.Renderer.MaxFramesInFlight == 0 {
		return errors.Wrap(ErrInvalidConfig, "max_frames_in_flight must be at least 1")
	}
	if c.Descriptors.MaxDescriptorsPerPool == 0 {
		return errors.Wrap(ErrInvalidConfig, "max_descriptors_per_pool must be at least 1")
	}
	if c.Assets.Workers <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "assets.workers must be positive, got %d", c.Assets.Workers)
	}
	if c.Assets.QueueSize < 0 {
		return errors.Wrapf(ErrInvalidConfig, "assets.queue_size must not be negative, got %d", c.Assets.QueueSize)
	}
	if c.Assets.ReloadCacheSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "assets.reload_cache_size must be positive, got %d", c.Assets.ReloadCacheSize)
	}
	if c.CLI.Tick.Duration <= 0 {
		return errors.Wrap(ErrInvalidConfig, "cli.tick must be positive")
	}
	return nil
}

// Apply pushes the ambient settings (log level, strictness) into the process.
func (c *Config) Apply() error {
	if err := SetLogLevel(c.Log.Level); err != nil {
		return errors.Mark(errors.Wrapf(err, "log level %q", c.Log.Level), ErrInvalidConfig)
	}
	if c.Log.Prefix != "" {
		SetLogPrefix(c.Log.Prefix)
	}
	SetStrictContracts(c.Debug.StrictContracts)
	return nil
}
