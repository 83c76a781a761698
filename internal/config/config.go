// Package config provides configuration management for the cloud storage backend.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// EpochStrategy selects how the cloud-manifest coordinator mints new epochs.
type EpochStrategy string

const (
	// EpochNanosWithRandom mints epochs from monotonic wall-clock nanoseconds,
	// tie-broken by a random suffix. Default.
	EpochNanosWithRandom EpochStrategy = "NanosWithRandom"
	// EpochMonotonicCounter mints epochs from a process-local monotonic counter.
	EpochMonotonicCounter EpochStrategy = "MonotonicCounter"
)

// CloudConfig is the complete configuration for one opened database instance.
type CloudConfig struct {
	Global     GlobalConfig     `yaml:"global"`
	Storage    StorageConfig    `yaml:"storage"`
	Cache      CacheConfig      `yaml:"cache"`
	Network    NetworkConfig    `yaml:"network"`
	Security   SecurityConfig   `yaml:"security"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Features   FeatureConfig    `yaml:"features"`
}

// GlobalConfig represents global application settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
}

// StorageConfig is the spec.md §6 configuration surface: source/destination
// prefix, credentials, and the policies governing the virtual environment,
// cloud-manifest coordinator, and deferred-delete scheduler.
type StorageConfig struct {
	SrcBucket string `yaml:"src_bucket"`
	SrcPrefix string `yaml:"src_prefix"`
	DstBucket string `yaml:"dst_bucket"`
	DstPrefix string `yaml:"dst_prefix"`
	Region    string `yaml:"region"`

	Credentials Credentials `yaml:"credentials"`

	KeepLocalSST bool `yaml:"keep_local_sst"`
	KeepLocalLog bool `yaml:"keep_local_log"`

	ServerSideEncryption bool   `yaml:"server_side_encryption"`
	EncryptionKeyID      string `yaml:"encryption_key_id"`

	FileDeletionDelay time.Duration `yaml:"file_deletion_delay"`

	PersistentCachePath    string `yaml:"persistent_cache_path"`
	PersistentCacheSizeGB  int    `yaml:"persistent_cache_size_gb"`

	ManifestEpochStrategy EpochStrategy `yaml:"manifest_epoch_strategy"`

	// StreamName is the log-stream (Kinesis-compatible) name backing the WAL.
	// Empty means derive one from DstPrefix.
	StreamName string `yaml:"stream_name"`

	// ListPageSize is the object-store List() page size. spec.md §9 flags the
	// spec's default of 50 as below typical best practice; callers may override.
	ListPageSize int `yaml:"list_page_size"`

	// RetryBudget is the total time budget for the object-store adapter's
	// fixed-delay retry loop (spec.md §4.2). Default 10s.
	RetryBudget time.Duration `yaml:"retry_budget"`

	// RequestTimeout bounds a single remote call (spec.md §5). Default 10m.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Credentials holds explicit access credentials; blank fields mean "use the
// ambient provider chain" per spec.md §6.
type Credentials struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// CacheConfig configures the local cache directory behavior.
type CacheConfig struct {
	TTL             time.Duration         `yaml:"ttl"`
	MaxEntries      int                   `yaml:"max_entries"`
	PersistentCache PersistentCacheConfig `yaml:"persistent_cache"`
}

// PersistentCacheConfig represents persistent block-cache settings.
type PersistentCacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
	MaxSize   string `yaml:"max_size"`
}

// NetworkConfig represents network configuration.
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig represents timeout settings.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
}

// RetryConfig represents retry settings for the object-store adapter.
type RetryConfig struct {
	FixedDelay time.Duration `yaml:"fixed_delay"`
	Budget     time.Duration `yaml:"budget"`
}

// CircuitBreakerConfig represents circuit breaker settings guarding the
// object-store and stream adapters.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// SecurityConfig represents security settings.
type SecurityConfig struct {
	TLS        TLSConfig        `yaml:"tls"`
	Encryption EncryptionConfig `yaml:"encryption"`
}

// TLSConfig represents TLS settings.
type TLSConfig struct {
	VerifyCertificates bool   `yaml:"verify_certificates"`
	MinVersion         string `yaml:"min_version"`
}

// EncryptionConfig represents encryption settings.
type EncryptionConfig struct {
	InTransit bool `yaml:"in_transit"`
	AtRest    bool `yaml:"at_rest"`
}

// MonitoringConfig represents monitoring settings.
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// MetricsConfig represents metrics settings.
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Prometheus   bool              `yaml:"prometheus"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// HealthChecksConfig represents health check settings.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Structured bool   `yaml:"structured"`
	Format     string `yaml:"format"`
}

// FeatureConfig represents feature flags.
type FeatureConfig struct {
	DeferredDeletion bool `yaml:"deferred_deletion"`
	Tailer           bool `yaml:"tailer"`
}

// NewDefault returns a configuration with sensible defaults matching spec.md §6.
func NewDefault() *CloudConfig {
	return &CloudConfig{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			MetricsPort: 8080,
			HealthPort:  8081,
		},
		Storage: StorageConfig{
			KeepLocalSST:          true,
			KeepLocalLog:          true,
			FileDeletionDelay:     1 * time.Hour,
			ManifestEpochStrategy: EpochNanosWithRandom,
			ListPageSize:          50,
			RetryBudget:           10 * time.Second,
			RequestTimeout:        10 * time.Minute,
		},
		Cache: CacheConfig{
			TTL:        5 * time.Minute,
			MaxEntries: 100000,
			PersistentCache: PersistentCacheConfig{
				Enabled:   false,
				Directory: "/var/cache/rocksdb-cloud",
				MaxSize:   "10GB",
			},
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Read:    30 * time.Second,
				Write:   300 * time.Second,
			},
			Retry: RetryConfig{
				FixedDelay: 100 * time.Millisecond,
				Budget:     10 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Security: SecurityConfig{
			TLS: TLSConfig{
				VerifyCertificates: true,
				MinVersion:         "1.2",
			},
			Encryption: EncryptionConfig{
				InTransit: true,
				AtRest:    false,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    true,
				Prometheus: true,
				CustomLabels: map[string]string{
					"service": "rocksdb-cloud",
				},
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
			Logging: LoggingConfig{
				Structured: true,
				Format:     "json",
			},
		},
		Features: FeatureConfig{
			DeferredDeletion: true,
			Tailer:           true,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *CloudConfig) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overlays credentials and region from the ambient environment,
// matching spec.md §6's testing environment variables.
func (c *CloudConfig) LoadFromEnv() error {
	if val := os.Getenv("aws_access_key_id"); val != "" {
		c.Storage.Credentials.AccessKey = val
	}
	if val := os.Getenv("aws_secret_access_key"); val != "" {
		c.Storage.Credentials.SecretKey = val
	}
	if val := os.Getenv("AWS_KMS_KEY_ID"); val != "" {
		c.Storage.EncryptionKeyID = val
	}
	if val := os.Getenv("ROCKSDB_CLOUD_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("ROCKSDB_CLOUD_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *CloudConfig) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsClone reports whether the destination prefix differs from the source,
// per spec.md §3's clone definition.
func (s StorageConfig) IsClone() bool {
	return s.DstBucket != "" && (s.DstBucket != s.SrcBucket || s.DstPrefix != s.SrcPrefix)
}

// WritesLocalOnly reports whether no destination bucket is configured, in
// which case writes never leave the local cache (spec.md §6).
func (s StorageConfig) WritesLocalOnly() bool {
	return s.DstBucket == ""
}

// Validate validates the configuration.
func (c *CloudConfig) Validate() error {
	if c.Storage.FileDeletionDelay < 0 {
		return fmt.Errorf("file_deletion_delay must not be negative")
	}

	if c.Storage.ListPageSize <= 0 {
		return fmt.Errorf("list_page_size must be greater than 0")
	}

	if c.Global.MetricsPort != 0 && c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	switch c.Storage.ManifestEpochStrategy {
	case EpochNanosWithRandom, EpochMonotonicCounter, "":
	default:
		return fmt.Errorf("invalid manifest_epoch_strategy: %s", c.Storage.ManifestEpochStrategy)
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
