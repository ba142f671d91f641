// Package config loads server and client configuration from a YAML file
// overlaid with TS_AOI_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server Server `koanf:"server"`
	Detect Detect `koanf:"detect"`
	Link   Link   `koanf:"link"`
	Redis  Redis  `koanf:"redis"`
	NATS   NATS   `koanf:"nats"`
	Client Client `koanf:"client"`
	Log    Log    `koanf:"log"`
}

type Server struct {
	Listen     string `koanf:"listen"`
	SharedRoot string `koanf:"shared_root"`
	ConfigRoot string `koanf:"config_root"`
	Workers    int    `koanf:"workers"`
}

type Detect struct {
	ModelPath   string        `koanf:"model_path"`
	ONNXLibrary string        `koanf:"onnx_library"`
	OCRURL      string        `koanf:"ocr_url"`
	OCRTimeout  time.Duration `koanf:"ocr_timeout"`
}

type Link struct {
	URL string `koanf:"url"`
}

type Redis struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type NATS struct {
	URL        string `koanf:"url"`
	Subject    string `koanf:"subject"`
	MaxRetries int    `koanf:"max_retries"`
}

type Client struct {
	ServerURL    string        `koanf:"server_url"`
	CameraSerial string        `koanf:"camera_serial"`
	SettleDelay  time.Duration `koanf:"settle_delay"`
	Product      string        `koanf:"product"`
}

type Log struct {
	Level string `koanf:"level"`
}

// Load reads path (optional) and the environment. Env keys map through a
// double-underscore separator: TS_AOI_SERVER__LISTEN → server.listen.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("TS_AOI_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "TS_AOI_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Server: Server{
			Listen:     ":8080",
			SharedRoot: "/mnt/aoi-shared",
			ConfigRoot: "/var/lib/ts-aoi",
		},
		Detect: Detect{
			OCRTimeout: 10 * time.Second,
		},
		NATS: NATS{
			Subject:    "aoi.inspections",
			MaxRetries: 3,
		},
		Client: Client{
			ServerURL:    "http://localhost:8080",
			CameraSerial: "SIM-001",
			SettleDelay:  2 * time.Second,
		},
		Log: Log{
			Level: "info",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config: server.listen is required")
	}
	if c.Server.SharedRoot == "" {
		return fmt.Errorf("config: server.shared_root is required")
	}
	if c.Server.ConfigRoot == "" {
		return fmt.Errorf("config: server.config_root is required")
	}
	if c.Server.Workers < 0 {
		return fmt.Errorf("config: server.workers must be >= 0 (got %d)", c.Server.Workers)
	}
	if c.Detect.OCRTimeout <= 0 {
		return fmt.Errorf("config: detect.ocr_timeout must be > 0 (got %s)", c.Detect.OCRTimeout)
	}
	if c.NATS.MaxRetries < 0 {
		return fmt.Errorf("config: nats.max_retries must be >= 0 (got %d)", c.NATS.MaxRetries)
	}
	if c.Client.ServerURL == "" {
		return fmt.Errorf("config: client.server_url is required")
	}
	if c.Client.SettleDelay < 0 {
		return fmt.Errorf("config: client.settle_delay must be >= 0 (got %s)", c.Client.SettleDelay)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level must be one of debug/info/warn/error (got %q)", c.Log.Level)
	}
	return nil
}
