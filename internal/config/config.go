// Package config loads tessera settings from defaults, a YAML file and
// TESSERA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/tessera/internal/domain"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Imagery ImageryConfig `mapstructure:"imagery"`
	Sync    SyncConfig    `mapstructure:"sync"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CaptureTimeout  time.Duration `mapstructure:"capture_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // exact origins or *.example.org
}

// Enabled reports whether any origin is allowed.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// StorageConfig selects where archives are read from.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // local, s3, azure
	LocalPath string      `mapstructure:"local_path"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// CatalogConfig holds the dataset catalog configuration.
type CatalogConfig struct {
	Path string `mapstructure:"path"` // SQLite file, ":memory:" for a transient catalog
}

// ImageryConfig tunes dataset selection, level selection and decoding.
type ImageryConfig struct {
	RelativeScale  float64       `mapstructure:"relative_scale"`  // level transition bias
	SelectionLimit int           `mapstructure:"selection_limit"` // datasets per view, 0 = unlimited
	TileCacheSize  int           `mapstructure:"tile_cache_size"` // memoized bitmaps
	DecodeWorkers  int           `mapstructure:"decode_workers"`
	LatBucket      float64       `mapstructure:"lat_bucket"` // degrees per memo latitude band
	RefreshAfter   time.Duration `mapstructure:"refresh_after"`

	MaxCapturePixels int64 `mapstructure:"max_capture_pixels"` // per stitched or output image
}

// SyncConfig holds archive synchronization configuration.
type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"` // 0 disables periodic sync
	Watch    bool          `mapstructure:"watch"`    // watch local storage for changes
}

// TLSConfig configures ACME certificates.
type TLSConfig struct {
	Enabled  bool      `mapstructure:"enabled"`
	Domains  []string  `mapstructure:"domains"`
	Email    string    `mapstructure:"email"`
	CacheDir string    `mapstructure:"cache_dir"`
	Staging  bool      `mapstructure:"staging"`
	DNS      DNSConfig `mapstructure:"dns"`
}

// DNSConfig holds Azure DNS settings for DNS-01 challenges. An empty
// subscription falls back to HTTP and TLS-ALPN challenges.
type DNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"` // user-assigned managed identity
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

var defaults = map[string]any{
	"server.host":                 "0.0.0.0",
	"server.port":                 8080,
	"server.read_timeout":         30 * time.Second,
	"server.write_timeout":        2 * time.Minute,
	"server.shutdown_timeout":     10 * time.Second,
	"server.capture_timeout":      90 * time.Second,
	"server.cors.allowed_origins": []string{},

	"storage.type":       "local",
	"storage.local_path": "./data",
	"catalog.path":       "./data/catalog.db",

	"imagery.relative_scale":  0.0,
	"imagery.selection_limit": 0,
	"imagery.tile_cache_size": 256,
	"imagery.decode_workers":  4,
	"imagery.lat_bucket":      5.0,
	"imagery.refresh_after":   10 * time.Minute,

	"imagery.max_capture_pixels": 64 << 20,

	"sync.interval": 0,
	"sync.watch":    true,

	"tls.enabled":   false,
	"tls.cache_dir": "./.certmagic",
	"tls.staging":   false,

	"metrics.enabled": true,
	"metrics.port":    9090,
	"metrics.path":    "/metrics",

	"logging.level":  "info",
	"logging.format": "json",
}

// Defaults registers the default value of every key with viper.
func Defaults() {
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
}

// Load reads the optional config file, applies TESSERA_* environment
// overrides and validates the result. Without configPath the file is looked
// up as config.yaml in ., ./config and /etc/tessera.
func Load(configPath string) (*Config, error) {
	Defaults()

	viper.SetEnvPrefix("TESSERA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, dir := range []string{".", "./config", "/etc/tessera"} {
			viper.AddConfigPath(dir)
		}
	} else {
		viper.SetConfigFile(configPath)
	}

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := new(Config)
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func validPort(p int) bool { return p > 0 && p < 65536 }

// Validate reports the first invalid setting as a *domain.ConfigError.
func (c *Config) Validate() error {
	for _, check := range []func() error{c.validateListeners, c.validateStorage, c.validateImagery} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateListeners() error {
	if !validPort(c.Server.Port) {
		return invalid("server.port", "invalid port %d", c.Server.Port)
	}
	if c.Metrics.Enabled && (!validPort(c.Metrics.Port) || c.Metrics.Port == c.Server.Port) {
		return invalid("metrics.port", "port %d unusable next to server port %d", c.Metrics.Port, c.Server.Port)
	}
	if !c.TLS.Enabled {
		return nil
	}
	if len(c.TLS.Domains) == 0 {
		return invalid("tls.domains", "at least one domain is needed for certificates")
	}
	if c.TLS.Email == "" {
		return invalid("tls.email", "an ACME account email is needed")
	}
	return nil
}

func (c *Config) validateStorage() error {
	s := c.Storage
	switch s.Type {
	case "local":
		if s.LocalPath == "" {
			return invalid("storage.local_path", "must not be empty")
		}
	case "s3":
		if s.S3.Bucket == "" {
			return invalid("storage.s3.bucket", "must not be empty")
		}
		if s.S3.Region == "" {
			return invalid("storage.s3.region", "must not be empty")
		}
	case "azure":
		if s.Azure.Container == "" {
			return invalid("storage.azure.container", "must not be empty")
		}
		if s.Azure.AccountName == "" && s.Azure.ConnectionString == "" {
			return invalid("storage.azure", "account_name or connection_string is required")
		}
	default:
		return invalid("storage.type", "unknown type %q, want local, s3 or azure", s.Type)
	}

	if c.Catalog.Path == "" {
		return invalid("catalog.path", "must not be empty")
	}
	if c.Sync.Interval < 0 {
		return invalid("sync.interval", "must not be negative")
	}
	return nil
}

func (c *Config) validateImagery() error {
	im := c.Imagery
	switch {
	case im.SelectionLimit < 0:
		return invalid("imagery.selection_limit", "must not be negative")
	case im.TileCacheSize < 1:
		return invalid("imagery.tile_cache_size", "must be at least 1")
	case im.DecodeWorkers < 1:
		return invalid("imagery.decode_workers", "must be at least 1")
	case im.LatBucket <= 0 || im.LatBucket > 90:
		return invalid("imagery.lat_bucket", "must be in (0, 90]")
	case im.MaxCapturePixels < 1:
		return invalid("imagery.max_capture_pixels", "must be at least 1")
	}
	return nil
}

// Address returns host:port for the API listener.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Address returns host:port for the metrics listener.
func (c *MetricsConfig) Address(host string) string {
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}
