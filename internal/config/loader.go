package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes as a Go duration string
// ("90s", "5m") in every supported file format.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by component defaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir      string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	RegistryPath string `json:"registry_path" yaml:"registry_path" toml:"registry_path"`
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat    string `json:"log_format" yaml:"log_format" toml:"log_format"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	Provider Provider `json:"provider" yaml:"provider" toml:"provider"`
	Queue    Queue    `json:"queue" yaml:"queue" toml:"queue"`
	Prober   Prober   `json:"prober" yaml:"prober" toml:"prober"`
	Cache    Cache    `json:"cache" yaml:"cache" toml:"cache"`
	Store    Store    `json:"store" yaml:"store" toml:"store"`
	Blob     Blob     `json:"blob" yaml:"blob" toml:"blob"`
	Events   Events   `json:"events" yaml:"events" toml:"events"`
	CORS     CORS     `json:"cors" yaml:"cors" toml:"cors"`
}

// Provider configures the remote inference API.
type Provider struct {
	StatusURL    string   `json:"status_url" yaml:"status_url" toml:"status_url"`
	InferenceURL string   `json:"inference_url" yaml:"inference_url" toml:"inference_url"`
	Token        string   `json:"token" yaml:"token" toml:"token"`
	Timeout      Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// Queue configures the request queue.
type Queue struct {
	MaxPending          int      `json:"max_pending" yaml:"max_pending" toml:"max_pending"`
	TickInterval        Duration `json:"tick_interval" yaml:"tick_interval" toml:"tick_interval"`
	CleanupInterval     Duration `json:"cleanup_interval" yaml:"cleanup_interval" toml:"cleanup_interval"`
	EvictAfter          Duration `json:"evict_after" yaml:"evict_after" toml:"evict_after"`
	MinDispatchInterval Duration `json:"min_dispatch_interval" yaml:"min_dispatch_interval" toml:"min_dispatch_interval"`
}

// Prober configures model readiness tracking.
type Prober struct {
	RecheckInterval Duration `json:"recheck_interval" yaml:"recheck_interval" toml:"recheck_interval"`
	RetryBase       Duration `json:"retry_base" yaml:"retry_base" toml:"retry_base"`
	RetryCap        Duration `json:"retry_cap" yaml:"retry_cap" toml:"retry_cap"`
	MaxRetries      int      `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	Disabled        bool     `json:"disabled" yaml:"disabled" toml:"disabled"`
}

// Cache configures the image result cache.
type Cache struct {
	Backend         string   `json:"backend" yaml:"backend" toml:"backend"` // memory|redis|postgres
	TTL             Duration `json:"ttl" yaml:"ttl" toml:"ttl"`
	CleanupInterval Duration `json:"cleanup_interval" yaml:"cleanup_interval" toml:"cleanup_interval"`
	RedisAddr       string   `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	PostgresDSN     string   `json:"postgres_dsn" yaml:"postgres_dsn" toml:"postgres_dsn"`
}

// Store configures the persistent status store.
type Store struct {
	Backend   string `json:"backend" yaml:"backend" toml:"backend"` // file|redis
	RedisAddr string `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
}

// Blob configures where generated images are written.
type Blob struct {
	Backend string `json:"backend" yaml:"backend" toml:"backend"` // local|minio
	Minio   Minio  `json:"minio" yaml:"minio" toml:"minio"`
}

// Minio holds S3-compatible storage settings.
type Minio struct {
	Endpoint      string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	AccessKey     string `json:"access_key" yaml:"access_key" toml:"access_key"`
	SecretKey     string `json:"secret_key" yaml:"secret_key" toml:"secret_key"`
	Bucket        string `json:"bucket" yaml:"bucket" toml:"bucket"`
	UseSSL        bool   `json:"use_ssl" yaml:"use_ssl" toml:"use_ssl"`
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url" toml:"public_base_url"`
}

// Events configures lifecycle event publishing.
type Events struct {
	KafkaBrokers []string `json:"kafka_brokers" yaml:"kafka_brokers" toml:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic" yaml:"kafka_topic" toml:"kafka_topic"`
}

// CORS configures cross-origin access for the browser UI.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		Addr:         ":8080",
		DataDir:      "~/.lounged",
		LogLevel:     "info",
		LogFormat:    "json",
		MaxBodyBytes: 1 << 20,
		Provider: Provider{
			StatusURL:    "https://api-inference.huggingface.co/status",
			InferenceURL: "https://api-inference.huggingface.co/models",
			Timeout:      Duration(2 * time.Minute),
		},
		Cache:  Cache{Backend: "memory"},
		Store:  Store{Backend: "file"},
		Blob:   Blob{Backend: "local"},
		Events: Events{KafkaTopic: "lounged.events"},
	}
}

// Load reads a configuration file based on its extension and layers it over
// Default(); keys absent from the file keep their default value.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := Decode(path, b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode unmarshals b into out according to the extension of path.
// The model registry loader shares it.
func Decode(path string, b []byte, out any) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, out)
	case ".json":
		return json.Unmarshal(b, out)
	case ".toml":
		return toml.Unmarshal(b, out)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
}
