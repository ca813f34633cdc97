package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/neurobridge-agent/internal/platform/envutil"
)

// Config carries everything the agent needs at startup. Values come from an
// optional YAML file overridden by environment variables.
type Config struct {
	BackendBaseURL string        `yaml:"backend_base_url"`
	BackendTimeout time.Duration `yaml:"backend_timeout"`

	FramePeriod    time.Duration `yaml:"frame_period"`
	PollPeriod     time.Duration `yaml:"poll_period"`
	FrameMaxWidth  int           `yaml:"frame_max_width"`
	FrameMaxHeight int           `yaml:"frame_max_height"`
	FrameQuality   int           `yaml:"frame_quality"`

	CaptureWidth  int `yaml:"capture_width"`
	CaptureHeight int `yaml:"capture_height"`

	LogMode string `yaml:"log_mode"`
}

func Default() Config {
	return Config{
		BackendBaseURL: "http://localhost:5002",
		BackendTimeout: 15 * time.Second,
		FramePeriod:    time.Second,
		PollPeriod:     3 * time.Second,
		FrameMaxWidth:  640,
		FrameMaxHeight: 480,
		FrameQuality:   70,
		CaptureWidth:   1280,
		CaptureHeight:  720,
		LogMode:        "development",
	}
}

// Load reads the config file at path (skipped when path is empty), then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.BackendBaseURL = envutil.Str("AGENT_BACKEND_BASE_URL", cfg.BackendBaseURL)
	cfg.BackendTimeout = envutil.Duration("AGENT_BACKEND_TIMEOUT", cfg.BackendTimeout)
	cfg.FramePeriod = envutil.Duration("AGENT_FRAME_PERIOD", cfg.FramePeriod)
	cfg.PollPeriod = envutil.Duration("AGENT_POLL_PERIOD", cfg.PollPeriod)
	cfg.FrameQuality = envutil.Int("AGENT_FRAME_QUALITY", cfg.FrameQuality)
	cfg.CaptureWidth = envutil.Int("AGENT_CAPTURE_WIDTH", cfg.CaptureWidth)
	cfg.CaptureHeight = envutil.Int("AGENT_CAPTURE_HEIGHT", cfg.CaptureHeight)
	cfg.LogMode = envutil.Str("LOG_MODE", cfg.LogMode)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.FramePeriod <= 0 {
		return fmt.Errorf("frame_period must be positive, got %v", c.FramePeriod)
	}
	if c.PollPeriod <= 0 {
		return fmt.Errorf("poll_period must be positive, got %v", c.PollPeriod)
	}
	if c.FrameQuality < 1 || c.FrameQuality > 100 {
		return fmt.Errorf("frame_quality must be in [1,100], got %d", c.FrameQuality)
	}
	if c.FrameMaxWidth <= 0 || c.FrameMaxHeight <= 0 {
		return fmt.Errorf("frame bounds must be positive, got %dx%d", c.FrameMaxWidth, c.FrameMaxHeight)
	}
	return nil
}
