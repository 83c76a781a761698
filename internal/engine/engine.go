// Package engine wires the object-store adapter, stream adapter, local
// environment, cloud-manifest coordinator, dbid registry, log-tailer,
// deferred-delete scheduler, and virtual environment into the single
// filesystem interface an opened LSM database consumes, the way the
// teacher's adapter.Adapter composes its backend/cache/buffer/mount
// pipeline from one storage URI and one configuration tree.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/cache"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/cloudmanifest"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/config"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/dbid"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/deferred"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/health"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/localenv"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/logstream"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/metrics"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/objectstore"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/tailer"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/vfs"
	"github.com/Andrei-Masilevich/rocksdb-cloud/pkg/api"
	pkgerrors "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/errors"
	pkghealth "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/health"
	"github.com/Andrei-Masilevich/rocksdb-cloud/pkg/status"
	"github.com/Andrei-Masilevich/rocksdb-cloud/pkg/utils"
)

// configureLogging builds the process-wide slog handler from
// global.log_level/log_file and monitoring.logging.format, matching the
// teacher's mixed json/text slog setup. Called once per Engine construction;
// the last call wins, same as the teacher's global logger.
func configureLogging(global config.GlobalConfig, logging config.LoggingConfig) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(global.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if global.LogFile != "" {
		f, err := os.OpenFile(global.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if logging.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// healthComponentStore is the pkghealth.Tracker component name the
// object-store gate records against.
const healthComponentStore = "store"

// storeHealthGate wraps the object-store adapter so a burst of Put/Get
// errors moves pkghealth.Tracker to degraded (error count 3) and then
// unavailable (error count 10) immediately, independent of
// internal/health.Checker's periodic polling; each success takes one off the
// count. Once unavailable, Put and Get fail fast instead of reaching the
// network. The adapter's errors carry CLOUD_* codes, which the tracker does
// not count as write errors, so its read-only state is not reached here.
type storeHealthGate struct {
	store   vfs.Store
	tracker *pkghealth.Tracker
}

func (g storeHealthGate) Put(ctx context.Context, prefix objectstore.Prefix, key string, data []byte, opts objectstore.PutOptions) error {
	if !g.tracker.CanWrite(healthComponentStore) {
		return pkgerrors.NewError(pkgerrors.ErrCodeServiceDegraded, "object store is read-only while degraded").
			WithComponent("engine").WithOperation("put")
	}
	err := g.store.Put(ctx, prefix, key, data, opts)
	g.record(err)
	return err
}

func (g storeHealthGate) Get(ctx context.Context, prefix objectstore.Prefix, key string, offset, size int64) ([]byte, error) {
	if !g.tracker.CanRead(healthComponentStore) {
		return nil, pkgerrors.NewError(pkgerrors.ErrCodeServiceDegraded, "object store is unavailable").
			WithComponent("engine").WithOperation("get")
	}
	data, err := g.store.Get(ctx, prefix, key, offset, size)
	g.record(err)
	return data, err
}

func (g storeHealthGate) Head(ctx context.Context, prefix objectstore.Prefix, key string) (objectstore.ObjectInfo, error) {
	return g.store.Head(ctx, prefix, key)
}

func (g storeHealthGate) List(ctx context.Context, prefix objectstore.Prefix, subPrefix, marker string, max int) ([]string, string, error) {
	return g.store.List(ctx, prefix, subPrefix, marker, max)
}

func (g storeHealthGate) Delete(ctx context.Context, prefix objectstore.Prefix, key string) error {
	return g.store.Delete(ctx, prefix, key)
}

func (g storeHealthGate) record(err error) {
	if err == nil {
		g.tracker.RecordSuccess(healthComponentStore)
		return
	}
	g.tracker.RecordError(healthComponentStore, err)
}

// Engine owns one opened database's collaborators and its health checker.
type Engine struct {
	cfg      *config.CloudConfig
	identity string

	store  *objectstore.Adapter
	stream *logstream.Adapter
	local  *localenv.Env

	blockCache *cache.PersistentCache
	degraded   *pkghealth.Tracker

	manifest    *cloudmanifest.Coordinator
	dbids       *dbid.Registry
	deferredDel *deferred.Scheduler
	tailerLoop  *tailer.Tailer

	Environment *vfs.Environment

	checker   *health.Checker
	ops       *status.Tracker
	monitor   *api.Server
	collector *metrics.Collector

	started bool
}

// deleteAdapter binds a Prefix into objectstore.Adapter.Delete, satisfying
// deferred.Deleter, which only knows about bare keys.
type deleteAdapter struct {
	store  *objectstore.Adapter
	prefix objectstore.Prefix
}

func (d deleteAdapter) Delete(ctx context.Context, key string) error {
	return d.store.Delete(ctx, d.prefix, key)
}

// New validates cfg and constructs an Engine for the database identified by
// identity (the dbid registered against the source prefix). It does not
// open any network connection; call Start for that.
func New(ctx context.Context, cfg *config.CloudConfig, identity string) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := configureLogging(cfg.Global, cfg.Monitoring.Logging); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	cacheDir := cfg.Storage.PersistentCachePath
	if cacheDir == "" {
		cacheDir = cfg.Cache.PersistentCache.Directory
	}
	local, err := localenv.New(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local environment: %w", err)
	}

	// storage.persistent_cache_size_gb is the spec-named knob; cache.persistent_cache.max_size
	// (a human-readable string, e.g. "10GB") is the teacher's own config shape and serves as a
	// fallback when the gigabyte knob is unset but the cache is explicitly enabled.
	maxCacheBytes := int64(cfg.Storage.PersistentCacheSizeGB) * 1024 * 1024 * 1024
	if maxCacheBytes == 0 && cfg.Cache.PersistentCache.Enabled && cfg.Cache.PersistentCache.MaxSize != "" {
		maxCacheBytes, err = utils.ParseBytes(cfg.Cache.PersistentCache.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("invalid cache.persistent_cache.max_size: %w", err)
		}
	}

	var blockCache *cache.PersistentCache
	if maxCacheBytes > 0 {
		blockCache, err = cache.NewPersistentCache(&cache.PersistentCacheConfig{
			Directory:   filepath.Join(cacheDir, "blocks"),
			MaxSize:     maxCacheBytes,
			Compression: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize persistent block cache: %w", err)
		}
	}

	var collector *metrics.Collector
	if cfg.Monitoring.Metrics.Enabled {
		collector, err = metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Namespace: "rocksdb_cloud",
			Subsystem: "objectstore",
			Labels:    cfg.Monitoring.Metrics.CustomLabels,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics collector: %w", err)
		}
	}

	store, err := objectstore.New(ctx, objectstore.Config{
		Region:                   cfg.Storage.Region,
		AccessKeyID:              cfg.Storage.Credentials.AccessKey,
		SecretAccessKey:          cfg.Storage.Credentials.SecretKey,
		RetryDelay:               cfg.Network.Retry.FixedDelay,
		RetryBudget:              cfg.Storage.RetryBudget,
		ListPageSize:             cfg.Storage.ListPageSize,
		EnableUploadOptimization: true,
		Metrics:                  collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object store adapter: %w", err)
	}

	var stream *logstream.Adapter
	if cfg.Features.Tailer {
		stream, err = logstream.New(ctx, logstream.Config{
			Region:      cfg.Storage.Region,
			RetryDelay:  cfg.Network.Retry.FixedDelay,
			RetryBudget: cfg.Storage.RetryBudget,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize stream adapter: %w", err)
		}
	}

	src := objectstore.Prefix{Bucket: cfg.Storage.SrcBucket, Path: cfg.Storage.SrcPrefix}
	dst := src
	if cfg.Storage.IsClone() {
		dst = objectstore.Prefix{Bucket: cfg.Storage.DstBucket, Path: cfg.Storage.DstPrefix}
	}

	manifest := cloudmanifest.New(store, dst, cloudmanifest.Config{
		EpochStrategy: cloudmanifest.EpochStrategy(cfg.Storage.ManifestEpochStrategy),
	})

	degraded := pkghealth.NewTracker(pkghealth.DefaultConfig())
	degraded.RegisterComponent(healthComponentStore)

	e := &Engine{
		cfg:         cfg,
		identity:    identity,
		store:       store,
		stream:      stream,
		local:       local,
		manifest:    manifest,
		dbids:       dbid.New(store, src),
		deferredDel: deferred.New(cfg.Storage.FileDeletionDelay, deleteAdapter{store: store, prefix: dst}),
		collector:   collector,
		blockCache:  blockCache,
		degraded:    degraded,
	}

	streamName := cfg.Storage.StreamName
	if streamName == "" {
		streamName = "wal-" + cfg.Storage.DstPrefix
	}

	if cfg.Features.Tailer && stream != nil {
		tailerCache, err := localenv.New(filepath.Join(cacheDir, "cache"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tailer cache: %w", err)
		}
		tailerCfg := tailer.DefaultConfig()
		tailerCfg.StreamName = streamName
		e.tailerLoop = tailer.New(tailerCfg, tailer.WrapLogstream(stream), store, dst, tailerCache)
	}

	vfsCfg := vfs.Config{
		Policy: vfs.Policy{
			KeepLocalSST:   cfg.Storage.KeepLocalSST,
			KeepLocalLog:   cfg.Storage.KeepLocalLog,
			HasDestination: !cfg.Storage.WritesLocalOnly(),
		},
		Local:       local,
		Source:      src,
		Destination: dst,
		Store:       storeHealthGate{store: store, tracker: degraded},
		Manifest:    manifest,
		DeferredDel: e.deferredDel,
		Tailer:      e.tailerLoop,
		StreamName:  streamName,
	}
	if stream != nil {
		vfsCfg.Stream = vfs.WrapLogstream(stream)
	}
	if blockCache != nil {
		vfsCfg.BlockCache = blockCache
	}
	e.Environment = vfs.New(vfsCfg)

	checker, err := health.NewChecker(&health.Config{Enabled: true, CheckInterval: cfg.Monitoring.HealthChecks.Interval, Timeout: cfg.Monitoring.HealthChecks.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize health checker: %w", err)
	}
	if err := checker.RegisterCheck("objectstore", "object store adapter reachability", health.CategoryStorage, health.PriorityCritical,
		health.StorageCheck(store.HealthCheck)); err != nil {
		return nil, err
	}
	if e.tailerLoop != nil {
		if err := checker.RegisterCheck("tailer", "log-tailer decode health", health.CategoryStorage, health.PriorityHigh,
			func(context.Context) error {
				if e.tailerLoop.Healthy() {
					return nil
				}
				return e.tailerLoop.LastError()
			}); err != nil {
			return nil, err
		}
	}
	e.checker = checker
	opsCfg := status.DefaultTrackerConfig()
	opsCfg.HealthTracker = degraded
	e.ops = status.NewTracker(opsCfg)

	if cfg.Global.HealthPort != 0 {
		apiCfg := api.DefaultServerConfig()
		apiCfg.Address = fmt.Sprintf(":%d", cfg.Global.HealthPort)
		apiCfg.EnableMetrics = cfg.Monitoring.Metrics.Enabled
		e.monitor = api.NewServer(apiCfg, e.checker, e.ops)
	}

	return e, nil
}

// Start opens the cloud-manifest pointer, registers this database's
// identity, and launches the background tailer, deferred-delete scheduler,
// and health checker.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return fmt.Errorf("engine already started")
	}

	mode := cloudmanifest.ModeWriter
	if _, err := e.manifest.Open(ctx, mode); err != nil {
		return fmt.Errorf("failed to open cloud manifest: %w", err)
	}

	if err := e.dbids.Register(ctx, e.identity, e.manifest.Epoch()); err != nil {
		return fmt.Errorf("failed to register database identity: %w", err)
	}

	if e.tailerLoop != nil {
		if err := e.tailerLoop.Start(ctx); err != nil {
			return fmt.Errorf("failed to start log tailer: %w", err)
		}
	}

	e.deferredDel.Start(ctx)

	if err := e.checker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health checker: %w", err)
	}

	if e.monitor != nil {
		e.monitor.StartBackground()
	}

	e.started = true
	slog.Default().Info("engine started", "identity", e.identity, "epoch", e.manifest.Epoch())
	return nil
}

// Stop gracefully shuts every background component down, closing
// connections last so in-flight tailer and deferred-delete work can finish.
func (e *Engine) Stop() error {
	if !e.started {
		return fmt.Errorf("engine not started")
	}

	if e.monitor != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.monitor.Shutdown(shutdownCtx); err != nil {
			slog.Default().Warn("monitoring server shutdown failed", "error", err)
		}
	}

	if err := e.checker.Stop(); err != nil {
		slog.Default().Warn("health checker stop failed", "error", err)
	}

	e.deferredDel.Stop()

	if e.tailerLoop != nil {
		e.tailerLoop.Stop()
	}

	var lastErr error
	if e.stream != nil {
		if err := e.stream.Close(); err != nil {
			lastErr = err
		}
	}
	if e.blockCache != nil {
		if err := e.blockCache.Close(); err != nil {
			lastErr = err
		}
	}
	if err := e.store.Close(); err != nil {
		lastErr = err
	}

	e.started = false
	return lastErr
}

// HealthChecker exposes the registered health checks for a monitoring
// surface (e.g. pkg/api) to mount.
func (e *Engine) HealthChecker() *health.Checker {
	return e.checker
}

// Operations exposes the engine's long-running-operation tracker. Savepoint
// and clone materialization do not report progress to it.
func (e *Engine) Operations() *status.Tracker {
	return e.ops
}

// Metrics exposes the object-store adapter's operation counters, nil when
// monitoring.metrics.enabled is false.
func (e *Engine) Metrics() *metrics.Collector {
	return e.collector
}
