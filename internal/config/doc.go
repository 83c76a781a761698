/*
Package config provides configuration management for the cloud storage
backend: a single YAML-backed Configuration tree covering the storage
surface (source/destination bucket and prefix, credentials, local-keep
policies, encryption, deferred-deletion delay, persistent cache, epoch
strategy) plus the ambient sections every component in this module
depends on (logging, network timeouts/retry/circuit-breaker, security,
monitoring, feature flags).

# Configuration Sources

Configuration loads in this order, each step overlaying the previous:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│     (aws_access_key_id, AWS_KMS_KEY_ID,      │
	│      ROCKSDB_CLOUD_*)                        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (NewDefault())                       │
	└─────────────────────────────────────────────┘

# Configuration Structure

Global:
  - Log level, log file, metrics and health ports

Storage:
  - Source/destination bucket and prefix, region, credentials
  - keep_local_sst / keep_local_log retention policy
  - server_side_encryption, encryption_key_id
  - file_deletion_delay for the deferred-deletion scheduler
  - persistent_cache_path / persistent_cache_size_gb
  - manifest_epoch_strategy (NanosWithRandom or MonotonicCounter)
  - stream_name, list_page_size, retry_budget, request_timeout

Cache:
  - TTL, max entries, persistent block-cache settings

Network:
  - Connect/read/write timeouts
  - Fixed-delay retry (delay + total budget) for the object-store adapter
  - Circuit breaker (failure threshold, open timeout)

Security:
  - TLS verification and minimum version
  - In-transit / at-rest encryption flags

Monitoring:
  - Metrics (Prometheus, custom labels)
  - Health check interval/timeout
  - Structured logging format

Features:
  - deferred_deletion, tailer toggles

# Usage

	cfg := config.NewDefault()

	if err := cfg.LoadFromFile("/etc/rocksdb-cloud/config.yaml"); err != nil {
		log.Fatal(err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format:

	global:
	  log_level: INFO
	  metrics_port: 8080
	  health_port: 8081

	storage:
	  src_bucket: my-bucket
	  src_prefix: db1
	  keep_local_sst: true
	  keep_local_log: true
	  file_deletion_delay: 1h
	  manifest_epoch_strategy: NanosWithRandom

	network:
	  retry:
	    fixed_delay: 100ms
	    budget: 10s

Environment variable mapping:

	aws_access_key_id / aws_secret_access_key   storage.credentials
	AWS_KMS_KEY_ID                               storage.encryption_key_id
	ROCKSDB_CLOUD_LOG_LEVEL                       global.log_level
	ROCKSDB_CLOUD_METRICS_PORT                    global.metrics_port

# Validation

Validate checks invariants that NewDefault and LoadFromFile alone
cannot enforce: file_deletion_delay must not be negative,
list_page_size must be positive, metrics_port and health_port must
differ, manifest_epoch_strategy must be a known value, and log_level
must be one of DEBUG/INFO/WARN/ERROR.

# Security Considerations

Credential fields are read from the environment in preference to the
YAML file, config files are written with 0600 permissions, and
directories created by SaveToFile use 0750.
*/
package config
