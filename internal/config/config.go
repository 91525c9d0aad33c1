// Package config loads Neuna configuration from the environment and manages
// the on-disk state layout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// HomeDirName is the name of the state directory under the user's home
	HomeDirName = ".neuna"
)

// Config holds runtime configuration for both binaries.
type Config struct {
	// Backend selects the generative backend: gemini, openai or echo
	Backend     string `env:"NEUNA_BACKEND" envDefault:"gemini"`
	APIKey      string `env:"GEMINI_API_KEY"`
	APIKeyAlias string `env:"API_KEY"`
	TextModel   string `env:"NEUNA_TEXT_MODEL" envDefault:"gemini-2.5-flash"`
	VisionModel string `env:"NEUNA_VISION_MODEL" envDefault:"gemini-2.5-flash-image"`
	AudioModel  string `env:"NEUNA_AUDIO_MODEL" envDefault:"gemini-2.5-flash"`
	Search      bool   `env:"NEUNA_SEARCH" envDefault:"true"`

	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"http://localhost:1234"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL"`

	TimeoutSecs int  `env:"NEUNA_TIMEOUT_SECONDS" envDefault:"60"`
	MaxRetries  uint `env:"NEUNA_MAX_RETRIES" envDefault:"3"`

	Home  string `env:"NEUNA_HOME"`
	Store string `env:"NEUNA_STORE" envDefault:"file"`
	MinIO MinIO  `envPrefix:"MINIO_"`

	WebAddr  string `env:"WEB_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":50051"`

	Location    string  `env:"NEUNA_LOCATION" envDefault:"ip"`
	Latitude    float64 `env:"NEUNA_LAT"`
	Longitude   float64 `env:"NEUNA_LON"`
	IPLookupURL string  `env:"NEUNA_IP_LOOKUP_URL" envDefault:"http://ip-api.com/json/"`

	DevicesFile  string `env:"NEUNA_DEVICES_FILE"`
	Camera       string `env:"NEUNA_CAMERA" envDefault:"screen"`
	CameraFile   string `env:"NEUNA_CAMERA_FILE"`
	Display      int    `env:"NEUNA_DISPLAY" envDefault:"0"`
	SpeakReplies bool   `env:"NEUNA_SPEAK_REPLIES" envDefault:"false"`
	Recorder     string `env:"NEUNA_RECORDER" envDefault:"arecord"`
	Permissions  string `env:"NEUNA_PERMISSIONS" envDefault:"prompt"`

	WeatherRefresh time.Duration `env:"NEUNA_WEATHER_REFRESH" envDefault:"15m"`

	LogLevel string `env:"NEUNA_LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"NEUNA_LOG_FILE"`
}

// MinIO holds object storage settings used when Store is "minio".
type MinIO struct {
	Endpoint  string `env:"ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET" envDefault:"neuna"`
	Secure    bool   `env:"SECURE" envDefault:"false"`
}

// Load reads an optional .env file and parses the environment.
func Load() (*Config, error) {
	// a missing .env is the normal case
	_ = godotenv.Load()
	return Parse()
}

// Parse parses the current environment without touching .env files.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = cfg.APIKeyAlias
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case "gemini", "openai", "echo", "mock":
	default:
		return fmt.Errorf("unknown backend %q (valid: gemini, openai, echo)", c.Backend)
	}
	switch c.Store {
	case "file", "minio", "memory":
	default:
		return fmt.Errorf("unknown store %q (valid: file, minio, memory)", c.Store)
	}
	switch c.Location {
	case "static", "ip", "off":
	default:
		return fmt.Errorf("unknown location mode %q (valid: static, ip, off)", c.Location)
	}
	switch c.Permissions {
	case "prompt", "allow", "deny":
	default:
		return fmt.Errorf("unknown permission policy %q (valid: prompt, allow, deny)", c.Permissions)
	}
	if c.TimeoutSecs <= 0 {
		return fmt.Errorf("NEUNA_TIMEOUT_SECONDS must be positive, got %d", c.TimeoutSecs)
	}
	return nil
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Paths holds commonly used paths
type Paths struct {
	// HomeDir is ~/.neuna
	HomeDir string
	// LogsDir is ~/.neuna/logs
	LogsDir string
	// StateDir is ~/.neuna/state
	StateDir string
	// CacheDir is ~/.neuna/cache
	CacheDir string
}

// GetPaths returns the standard paths. A non-empty override replaces ~/.neuna.
func GetPaths(override string) (*Paths, error) {
	home := override
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		home = filepath.Join(userHome, HomeDirName)
	}

	return &Paths{
		HomeDir:  home,
		LogsDir:  filepath.Join(home, "logs"),
		StateDir: filepath.Join(home, "state"),
		CacheDir: filepath.Join(home, "cache"),
	}, nil
}

// EnsureDirectories creates all required directories
func (p *Paths) EnsureDirectories() error {
	dirs := []string{p.HomeDir, p.LogsDir, p.StateDir, p.CacheDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LogFilePath returns the configured log file, defaulting into LogsDir.
func (c *Config) LogFilePath(p *Paths) string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(p.LogsDir, "neuna.log")
}
