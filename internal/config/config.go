// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Manifest ManifestConfig `mapstructure:"manifest"`
	Vision   VisionConfig   `mapstructure:"vision"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CaptureConfig governs per-URL archiving.
type CaptureConfig struct {
	NavigationTimeoutSeconds int     `mapstructure:"navigation_timeout_seconds"`
	SettleDelaySeconds       int     `mapstructure:"settle_delay_seconds"`
	ExportTimeoutSeconds     int     `mapstructure:"export_timeout_seconds"`
	ArtifactPrefix           string  `mapstructure:"artifact_prefix"`
	MaxUploadBytes           int64   `mapstructure:"max_upload_bytes"`
	DomainQPS                float64 `mapstructure:"domain_qps"`
}

// BrowserConfig selects and configures the rendering engine.
type BrowserConfig struct {
	Engine     string `mapstructure:"engine"`
	Headless   bool   `mapstructure:"headless"`
	NoSandbox  bool   `mapstructure:"no_sandbox"`
	DisableGPU bool   `mapstructure:"disable_gpu"`
	UserAgent  string `mapstructure:"user_agent"`
	RemoteURL  string `mapstructure:"remote_url"`
	ExecPath   string `mapstructure:"exec_path"`
	Stealth    bool   `mapstructure:"stealth"`
}

// StorageConfig selects the artifact backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// ManifestConfig controls manifest naming.
type ManifestConfig struct {
	Name   string `mapstructure:"name"`
	PerRun bool   `mapstructure:"per_run"`
}

// VisionConfig configures the Cloud Vision client.
type VisionConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint"`
	MaxResults      int64  `mapstructure:"max_results"`
}

// DBConfig controls access to the relational database. An empty DSN
// disables persistence of capture rows.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	RunTable string `mapstructure:"run_table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// WorkerConfig sizes the asynchronous job pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// TracingConfig controls OpenTelemetry span sampling.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("capture.navigation_timeout_seconds", 60)
	v.SetDefault("capture.settle_delay_seconds", 5)
	v.SetDefault("capture.export_timeout_seconds", 0)
	v.SetDefault("capture.artifact_prefix", "artifacts")
	v.SetDefault("capture.max_upload_bytes", 20<<20)
	v.SetDefault("capture.domain_qps", 0)
	v.SetDefault("browser.engine", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", ".")
	v.SetDefault("manifest.name", "results.csv")
	v.SetDefault("manifest.per_run", false)
	v.SetDefault("db.table", "captures")
	v.SetDefault("db.run_table", "capture_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.topic_name", "captures")
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.queue_depth", 16)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Capture.NavigationTimeoutSeconds <= 0 {
		return fmt.Errorf("capture.navigation_timeout_seconds must be > 0")
	}
	if c.Capture.SettleDelaySeconds < 0 {
		return fmt.Errorf("capture.settle_delay_seconds must be >= 0")
	}
	if c.Capture.ExportTimeoutSeconds < 0 {
		return fmt.Errorf("capture.export_timeout_seconds must be >= 0")
	}
	if c.Capture.MaxUploadBytes <= 0 {
		return fmt.Errorf("capture.max_upload_bytes must be > 0")
	}
	if c.Capture.DomainQPS < 0 {
		return fmt.Errorf("capture.domain_qps must be >= 0")
	}
	switch c.Browser.Engine {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("browser.engine must be chromedp or rod, got %q", c.Browser.Engine)
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be local, gcs, or memory, got %q", c.Storage.Backend)
	}
	if strings.Contains(c.Manifest.Name, "/") || c.Manifest.Name == "" {
		return fmt.Errorf("manifest.name must be a plain file name")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.QueueDepth < 0 {
		return fmt.Errorf("worker.queue_depth must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// NavigationTimeout returns the soft navigation budget.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Capture.NavigationTimeoutSeconds) * time.Second
}

// SettleDelay returns the post-navigation wait. Zero disables the wait.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Capture.SettleDelaySeconds) * time.Second
}

// ExportTimeout returns the PDF export bound. Zero means unbounded.
func (c Config) ExportTimeout() time.Duration {
	return time.Duration(c.Capture.ExportTimeoutSeconds) * time.Second
}
