/*
Package types provides the core interfaces, data structures, and type
definitions shared across the cloud storage backend.

This package serves as the foundation for the module, defining the
contracts between the object-store adapter, the local cache, the
metrics collector, and the health checker, and establishing the data
structures used throughout the codebase.

# Architecture Overview

The module's components plug into a small set of shared interfaces:

	┌─────────────────────────────────────────────┐
	│         Virtual Environment Dispatch        │
	│              (internal/vfs)                │
	└─────────────────────────────────────────────┘
	          │        │        │        │
	┌─────────┴───┐ ┌──┴──┐ ┌───┴────┐ ┌─┴───────┐
	│   Backend   │ │Cache│ │Metrics │ │ Health  │
	│ (object     │ │     │ │        │ │ Checker │
	│  store)     │ │     │ │        │ │         │
	└─────────────┘ └─────┘ └────────┘ └─────────┘

# Core Interfaces

Backend:
Abstracts object-store operations (get/put/delete/head/list, with
batch variants) behind a uniform API so the virtual environment and
tests don't depend on a concrete AWS SDK type.

Cache:
Defines local cache capabilities with eviction, statistics tracking,
and range-based get/put for the data-file read path.

MetricsCollector:
Enables operation tracking, cache metrics, and error reporting for
Prometheus integration.

ConfigManager / HealthChecker / ConnectionManager:
Small interfaces the config, health, and connection-pool packages
implement, kept here so callers can depend on the interface rather
than the concrete package.

# Data Structures

ObjectInfo:
Metadata representation for stored objects including size,
timestamps, ETag, and custom metadata attributes.

FileMetadata:
POSIX-style metadata for the local cache directory's files.

Configuration Types:
Aliases of the internal/config tree (CloudConfig and its sections),
re-exported so callers working with types.* don't need a second
import.

PerformanceMetrics:
Real-time throughput, latency, and cache-hit-rate tracking.

# Usage Example

Implementing a Backend:

	type myBackend struct {
		client *s3.Client
	}

	func (b *myBackend) HeadObject(ctx context.Context, key string) (*types.ObjectInfo, error) {
		meta, err := b.client.Head(ctx, key)
		if err != nil {
			return nil, err
		}
		return &types.ObjectInfo{Key: key, Size: meta.Size, ETag: meta.ETag}, nil
	}

# Interface Contracts

1. Context awareness: operations accept context.Context for cancellation and timeouts.
2. Explicit errors: every operation returns an error, no panics for expected failures.
3. Range operations: offset/size parameters support partial reads.
4. Batch operations: batch variants exist where they reduce round trips.

# Thread Safety

Implementations of these interfaces must be safe for concurrent use:
the object-store adapter, cache, and metrics collector are all shared
across the tailer, coordinator, and virtual environment goroutines.
*/
package types
