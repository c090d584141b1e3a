// Package config loads rifed settings from defaults, an optional YAML file
// and RIFED_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. RIFED_STORAGE
const EnvPrefix = "RIFED"

// MinUploadRetention keeps the sweeper away from inputs of running pipelines
const MinUploadRetention = time.Hour

// Config is the effective server configuration
type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	Storage         string        `mapstructure:"storage" yaml:"storage"`
	RifeRepo        string        `mapstructure:"rife_repo" yaml:"rife_repo"`
	PythonBin       string        `mapstructure:"python_bin" yaml:"python_bin"`
	FFmpegBin       string        `mapstructure:"ffmpeg_bin" yaml:"ffmpeg_bin"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	APIKeyHash      string        `mapstructure:"api_key_hash" yaml:"api_key_hash,omitempty"`
	MaxUploadMB     int64         `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	MaxConnections  int           `mapstructure:"max_connections" yaml:"max_connections"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	UploadRetention time.Duration `mapstructure:"upload_retention" yaml:"upload_retention"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	TLS       TLSConfig       `mapstructure:"tls" yaml:"tls"`
}

// RateLimitConfig limits job submissions per client. RPS 0 disables it.
// TrustProxy keys clients on X-Forwarded-For; enable it only behind a
// reverse proxy that appends the header.
type RateLimitConfig struct {
	RPS        float64 `mapstructure:"rps" yaml:"rps"`
	Burst      int     `mapstructure:"burst" yaml:"burst"`
	TrustProxy bool    `mapstructure:"trust_proxy" yaml:"trust_proxy"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
	Dir   string `mapstructure:"dir" yaml:"dir,omitempty"` // empty: stdout only
}

// TLSConfig switches the listener to HTTPS when CertFile is set. With
// SelfSigned a certificate for Hosts is generated on first start.
type TLSConfig struct {
	CertFile   string   `mapstructure:"cert_file" yaml:"cert_file,omitempty"`
	KeyFile    string   `mapstructure:"key_file" yaml:"key_file,omitempty"`
	SelfSigned bool     `mapstructure:"self_signed" yaml:"self_signed"`
	Hosts      []string `mapstructure:"hosts" yaml:"hosts,omitempty"`
}

// Enabled reports whether the server should serve HTTPS
func (t TLSConfig) Enabled() bool { return t.CertFile != "" }

// SetDefaults registers every key so environment overrides are seen
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("storage", "/data")
	v.SetDefault("rife_repo", "/opt/rife")
	v.SetDefault("python_bin", "python3")
	v.SetDefault("ffmpeg_bin", "ffmpeg")
	v.SetDefault("cors_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
		"http://localhost:5173",
	})
	v.SetDefault("api_key", "")
	v.SetDefault("api_key_hash", "")
	v.SetDefault("max_upload_mb", 2048)
	v.SetDefault("max_connections", 0)
	v.SetDefault("read_timeout", 10*time.Minute)
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("upload_retention", time.Duration(0))

	v.SetDefault("rate_limit.rps", 0.0)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.trust_proxy", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.self_signed", false)
	v.SetDefault("tls.hosts", []string{})
}

// LoadDotEnv exports the variables of an env file that are not already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration into v. file may be empty, in which case
// $HOME/.rifed/config.yaml is used when present.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".rifed"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.Storage == "" {
		errs = append(errs, errors.New("storage is required"))
	}
	if c.RifeRepo == "" {
		errs = append(errs, errors.New("rife_repo is required"))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("max_connections must not be negative, got %d", c.MaxConnections))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.rps must not be negative, got %v", c.RateLimit.RPS))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("rate_limit.burst must be at least 1"))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}
	if c.UploadRetention != 0 && c.UploadRetention < MinUploadRetention {
		errs = append(errs, fmt.Errorf("upload_retention must be 0 or at least %s, got %s", MinUploadRetention, c.UploadRetention))
	}
	if c.TLS.Enabled() && c.TLS.KeyFile == "" {
		errs = append(errs, errors.New("tls.key_file is required with tls.cert_file"))
	}
	if c.TLS.SelfSigned && !c.TLS.Enabled() {
		errs = append(errs, errors.New("tls.self_signed needs tls.cert_file and tls.key_file"))
	}
	return errors.Join(errs...)
}

// MaxUploadBytes converts the upload limit to bytes
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Redacted returns a copy safe to print
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "<redacted>"
	}
	c.CORSOrigins = append([]string(nil), c.CORSOrigins...)
	return c
}
