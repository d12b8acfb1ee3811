// Package config provides unified configuration for the stratum binary,
// loaded from defaults, an optional YAML/JSON file, and P_*-prefixed
// environment variables, in that order of increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects which cluster role this process runs.
type Mode string

const (
	ModeAll    Mode = "all"
	ModeIngest Mode = "ingest"
	ModeQuery  Mode = "query"
)

// StoreType selects the object store backend, matching the CLI's first
// positional argument.
type StoreType string

const (
	StoreLocal StoreType = "local-store"
	StoreS3    StoreType = "s3-store"
	StoreBlob  StoreType = "blob-store"
	StoreGCS   StoreType = "gcs-store"
)

// Config holds the full configuration surface of a stratum process.
type Config struct {
	Mode Mode   `json:"mode" yaml:"mode"`
	Addr string `json:"addr" yaml:"addr"`

	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`

	StagingDir      string `json:"staging_dir" yaml:"staging_dir"`
	StagingCapBytes int64  `json:"staging_cap_bytes" yaml:"staging_cap_bytes"`

	Store StoreConfig `json:"store" yaml:"store"`

	RetentionCheckInterval time.Duration `json:"retention_check_interval" yaml:"retention_check_interval"`
	ConversionInterval     time.Duration `json:"conversion_interval" yaml:"conversion_interval"`

	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	Bus BusConfig `json:"bus" yaml:"bus"`

	// ShutdownTimeout caps the in-flight request drain together with
	// DrainTimeout (the shorter wins); registered closers run afterwards
	// without a deadline from it.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	// DrainTimeout bounds how long Stop waits for in-flight HTTP requests
	// to finish before closing the listener out from under them.
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
}

// BusConfig configures the optional Kafka-compatible bus consumer. A
// single topic/stream binding covers the common case; additional
// bindings can be added via a config file.
type BusConfig struct {
	Enabled  bool             `json:"enabled" yaml:"enabled"`
	Brokers  []string         `json:"brokers" yaml:"brokers"`
	GroupID  string           `json:"group_id" yaml:"group_id"`
	Bindings []BusTopicConfig `json:"bindings" yaml:"bindings"`
}

// BusTopicConfig binds one bus topic to a destination stream.
type BusTopicConfig struct {
	Topic           string `json:"topic" yaml:"topic"`
	Stream          string `json:"stream" yaml:"stream"`
	CustomPartition string `json:"custom_partition" yaml:"custom_partition"`
}

// StoreConfig holds the settings for whichever object store backend is selected.
type StoreConfig struct {
	Type StoreType `json:"type" yaml:"type"`

	FSDir string `json:"fs_dir" yaml:"fs_dir"`

	S3URL       string `json:"s3_url" yaml:"s3_url"`
	S3Bucket    string `json:"s3_bucket" yaml:"s3_bucket"`
	S3AccessKey string `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key" yaml:"s3_secret_key"`
	S3Region    string `json:"s3_region" yaml:"s3_region"`

	AzrURL       string `json:"azr_url" yaml:"azr_url"`
	AzrContainer string `json:"azr_container" yaml:"azr_container"`

	GCSBucket string `json:"gcs_bucket" yaml:"gcs_bucket"`
}

// ClusterConfig holds cluster-plane settings.
type ClusterConfig struct {
	NodeID string `json:"node_id" yaml:"node_id"`
	Role   string `json:"role" yaml:"role"` // ingestor | querier | all
}

// DefaultConfig returns the default configuration for standalone local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:            ModeAll,
		Addr:            ":8080",
		StagingDir:      "./data/staging",
		StagingCapBytes: 10 * 1024 * 1024 * 1024, // 10GiB

		Store: StoreConfig{
			Type:  StoreLocal,
			FSDir: "./data/store",
		},

		RetentionCheckInterval: time.Hour,
		ConversionInterval:     60 * time.Second,

		Cluster: ClusterConfig{
			Role: "all",
		},

		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

// Resolve fills in derived paths left empty.
func (c *Config) Resolve() {
	if c.StagingDir == "" {
		c.StagingDir = "./data/staging"
	}
	if c.Store.Type == StoreLocal && c.Store.FSDir == "" {
		c.Store.FSDir = "./data/store"
	}
}

// Validate checks the structural invariants of a Config.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeIngest, ModeQuery:
	default:
		return fmt.Errorf("config: invalid mode %q (must be all, ingest, or query)", c.Mode)
	}

	switch c.Store.Type {
	case StoreLocal, StoreS3, StoreBlob, StoreGCS:
	default:
		return fmt.Errorf("config: invalid store type %q", c.Store.Type)
	}

	if c.Store.Type == StoreS3 && c.Store.S3Bucket == "" {
		return fmt.Errorf("config: P_S3_BUCKET is required for s3-store")
	}
	if c.Store.Type == StoreBlob && c.Store.AzrContainer == "" {
		return fmt.Errorf("config: P_AZR_CONTAINER is required for blob-store")
	}
	if c.Store.Type == StoreGCS && c.Store.GCSBucket == "" {
		return fmt.Errorf("config: P_GCS_BUCKET is required for gcs-store")
	}

	if c.StagingCapBytes <= 0 {
		return fmt.Errorf("config: staging_cap_bytes must be positive")
	}

	return nil
}

func (c *Config) ShouldRunIngest() bool { return c.Mode == ModeAll || c.Mode == ModeIngest }
func (c *Config) ShouldRunQuery() bool  { return c.Mode == ModeAll || c.Mode == ModeQuery }

// LoadFromFile loads configuration from a YAML or JSON file, starting from defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := DefaultConfig()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays P_*-prefixed environment variables onto cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("P_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("P_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("P_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("P_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("P_STAGING_DIR"); v != "" {
		cfg.StagingDir = v
	}
	if v := os.Getenv("P_STAGING_CAP_BYTES"); v != "" {
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.StagingCapBytes = n
		}
	}
	if v := os.Getenv("P_RETENTION_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RetentionCheckInterval = d
		}
	}
	if v := os.Getenv("P_CONVERSION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ConversionInterval = d
		}
	}
	if v := os.Getenv("P_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("P_DRAIN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DrainTimeout = d
		}
	}

	if v := os.Getenv("P_FS_DIR"); v != "" {
		cfg.Store.FSDir = v
	}
	if v := os.Getenv("P_S3_URL"); v != "" {
		cfg.Store.S3URL = v
	}
	if v := os.Getenv("P_S3_BUCKET"); v != "" {
		cfg.Store.S3Bucket = v
	}
	if v := os.Getenv("P_S3_ACCESS_KEY"); v != "" {
		cfg.Store.S3AccessKey = v
	}
	if v := os.Getenv("P_S3_SECRET_KEY"); v != "" {
		cfg.Store.S3SecretKey = v
	}
	if v := os.Getenv("P_S3_REGION"); v != "" {
		cfg.Store.S3Region = v
	}
	if v := os.Getenv("P_AZR_URL"); v != "" {
		cfg.Store.AzrURL = v
	}
	if v := os.Getenv("P_AZR_CONTAINER"); v != "" {
		cfg.Store.AzrContainer = v
	}
	if v := os.Getenv("P_GCS_BUCKET"); v != "" {
		cfg.Store.GCSBucket = v
	}

	if v := os.Getenv("P_BUS_BROKERS"); v != "" {
		cfg.Bus.Enabled = true
		cfg.Bus.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("P_BUS_GROUP_ID"); v != "" {
		cfg.Bus.GroupID = v
	}
	if topic, stream := os.Getenv("P_BUS_TOPIC"), os.Getenv("P_BUS_STREAM"); topic != "" && stream != "" {
		cfg.Bus.Bindings = []BusTopicConfig{{
			Topic:           topic,
			Stream:          stream,
			CustomPartition: os.Getenv("P_BUS_CUSTOM_PARTITION"),
		}}
	}
}

// ApplyStoreType maps the CLI's positional store-type argument onto cfg.
func ApplyStoreType(cfg *Config, storeType string) error {
	switch StoreType(storeType) {
	case StoreLocal, StoreS3, StoreBlob, StoreGCS:
		cfg.Store.Type = StoreType(storeType)
		return nil
	default:
		return fmt.Errorf("config: unknown store type %q (want local-store|s3-store|blob-store|gcs-store)", storeType)
	}
}

// EnsureDirectories creates every local directory the configuration references.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.StagingDir}
	if c.Store.Type == StoreLocal {
		dirs = append(dirs, c.Store.FSDir)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
