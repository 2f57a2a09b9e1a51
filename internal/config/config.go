package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxAttachments = 10
	// LegacyMaxAttachments is the ceiling used by the older per-type widgets.
	LegacyMaxAttachments   = 5
	DefaultMaxFileBytes    = 10 << 20 // 10 MB
	DefaultMaxDocChars     = 200_000
	DefaultMaxTotalPayload = 500_000
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" toml:"basic_config" yaml:"basic_config"`
	Limits      LimitsConfig              `json:"limits" toml:"limits" yaml:"limits"`
	Upload      UploadConfig              `json:"upload" toml:"upload" yaml:"upload"`
	Worker      WorkerConfig              `json:"worker" toml:"worker" yaml:"worker"`
	Redis       RedisConfig               `json:"redis" toml:"redis" yaml:"redis"`
	Databases   map[string]DatabaseConfig `json:"databases" toml:"databases" yaml:"databases"`
	Drafts      DraftsConfig              `json:"drafts" toml:"drafts" yaml:"drafts"`
	Dialog      DialogConfig              `json:"dialog" toml:"dialog" yaml:"dialog"`
	Log         LogConfig                 `json:"log" toml:"log" yaml:"log"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" toml:"server_address" yaml:"server_address"`
}

// LimitsConfig bounds what a single conversation may hold in its pending list.
type LimitsConfig struct {
	MaxAttachments  int   `json:"max_attachments" toml:"max_attachments" yaml:"max_attachments" validate:"gte=1"`
	MaxFileBytes    int64 `json:"max_file_bytes" toml:"max_file_bytes" yaml:"max_file_bytes" validate:"gte=1"`
	MaxDocChars     int   `json:"max_document_chars" toml:"max_document_chars" yaml:"max_document_chars" validate:"gte=1"`
	MaxTotalPayload int   `json:"max_total_payload" toml:"max_total_payload" yaml:"max_total_payload" validate:"gtefield=MaxDocChars"`
	ExtendedImages  bool  `json:"extended_images" toml:"extended_images" yaml:"extended_images"`
	MediaAccepted   *bool `json:"media_accepted" toml:"media_accepted" yaml:"media_accepted"`
}

type UploadConfig struct {
	BaseURL           string  `json:"base_url" toml:"base_url" yaml:"base_url" validate:"omitempty,url"`
	AuthenticatedPath string  `json:"authenticated_path" toml:"authenticated_path" yaml:"authenticated_path"`
	UnloggedPath      string  `json:"unlogged_path" toml:"unlogged_path" yaml:"unlogged_path"`
	TimeoutSeconds    int     `json:"timeout_seconds" toml:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`
	RatePerSecond     float64 `json:"rate_per_second" toml:"rate_per_second" yaml:"rate_per_second" validate:"gte=0"`
}

type WorkerConfig struct {
	MinWorkers        int `json:"min_workers" toml:"min_workers" yaml:"min_workers" validate:"gte=0"`
	MaxWorkers        int `json:"max_workers" toml:"max_workers" yaml:"max_workers" validate:"gte=1,gtefield=MinWorkers"`
	QueueSize         int `json:"queue_size" toml:"queue_size" yaml:"queue_size" validate:"gte=1"`
	WorkerIdleSeconds int `json:"worker_idle_seconds" toml:"worker_idle_seconds" yaml:"worker_idle_seconds" validate:"gte=0"`
}

type RedisConfig struct {
	Host     string `json:"host" toml:"host" yaml:"host"`
	Port     int    `json:"port" toml:"port" yaml:"port"`
	Username string `json:"username" toml:"username" yaml:"username"`
	Password string `json:"password" toml:"password" yaml:"password"`
	DB       int    `json:"db" toml:"db" yaml:"db"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" toml:"dsn" yaml:"dsn"`
	Host     string `json:"host" toml:"host" yaml:"host"`
	Port     int    `json:"port" toml:"port" yaml:"port"`
	Username string `json:"username" toml:"username" yaml:"username"`
	Password string `json:"password" toml:"password" yaml:"password"`
	DBName   string `json:"db_name" toml:"db_name" yaml:"db_name"`
	Params   string `json:"params" toml:"params" yaml:"params"`
}

// DraftsConfig selects where pending lists survive a restart.
type DraftsConfig struct {
	Backend    string `json:"backend" toml:"backend" yaml:"backend" validate:"oneof=memory redis sqlite3 mysql"`
	TTLMinutes int    `json:"ttl_minutes" toml:"ttl_minutes" yaml:"ttl_minutes" validate:"gte=0"`
}

type DialogConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Channel string `json:"channel" toml:"channel" yaml:"channel"`
}

type LogConfig struct {
	Level string `json:"level" toml:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `json:"json" toml:"json" yaml:"json"`
}

// Load reads configuration from the provided path (defaults to config.json).
// The decoder is picked from the file extension: .toml, .yaml/.yml, anything else is JSON.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg, err := Parse(data, filepath.Ext(absPath))
	if err != nil {
		return nil, err
	}

	for name, db := range cfg.Databases {
		if strings.HasPrefix(name, "sqlite") && db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}
	return cfg, nil
}

// Parse decodes raw config bytes, applies defaults and validates the result.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.Limits.MaxAttachments == 0 {
		c.Limits.MaxAttachments = DefaultMaxAttachments
	}
	if c.Limits.MaxFileBytes == 0 {
		c.Limits.MaxFileBytes = DefaultMaxFileBytes
	}
	if c.Limits.MaxDocChars == 0 {
		c.Limits.MaxDocChars = DefaultMaxDocChars
	}
	if c.Limits.MaxTotalPayload == 0 {
		c.Limits.MaxTotalPayload = DefaultMaxTotalPayload
	}
	if c.Upload.AuthenticatedPath == "" {
		c.Upload.AuthenticatedPath = "/assets/upload"
	}
	if c.Upload.UnloggedPath == "" {
		c.Upload.UnloggedPath = "/assets/upload-unlogged"
	}
	if c.Worker.MaxWorkers == 0 {
		c.Worker.MaxWorkers = 4
	}
	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = 64
	}
	if c.Worker.WorkerIdleSeconds == 0 {
		c.Worker.WorkerIdleSeconds = 30
	}
	if c.Drafts.Backend == "" {
		c.Drafts.Backend = "memory"
	}
	if c.Dialog.Channel == "" {
		c.Dialog.Channel = "dialog:media"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// MediaAcceptedByDefault reports whether new sessions accept image uploads.
func (c *Config) MediaAcceptedByDefault() bool {
	if c.Limits.MediaAccepted == nil {
		return true
	}
	return *c.Limits.MediaAccepted
}
