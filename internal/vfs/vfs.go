// Package vfs is the virtual environment spec §4.4 describes: the
// dispatcher implementing exactly the filesystem interface the LSM engine
// consumes, routing each call to the local POSIX environment, the object
// store, or the stream adapter based on filename classification, the
// keep_local_sst policy, and whether a destination is configured.
package vfs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/classify"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/cloudmanifest"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/deferred"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/localenv"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/logstream"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/objectstore"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/tailer"
	pkgerrors "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/errors"
)

// Store is the subset of the object-store client adapter the environment
// needs.
type Store interface {
	Put(ctx context.Context, prefix objectstore.Prefix, key string, data []byte, opts objectstore.PutOptions) error
	Get(ctx context.Context, prefix objectstore.Prefix, key string, offset, size int64) ([]byte, error)
	Head(ctx context.Context, prefix objectstore.Prefix, key string) (objectstore.ObjectInfo, error)
	List(ctx context.Context, prefix objectstore.Prefix, subPrefix, marker string, max int) (keys []string, nextMarker string, err error)
	Delete(ctx context.Context, prefix objectstore.Prefix, key string) error
}

// StreamAppender is the subset of the stream client adapter the
// environment needs to produce log records.
type StreamAppender interface {
	Append(ctx context.Context, name string, record []byte) error
}

// BlockCache is an optional size-bounded read-through cache for data-file
// bytes fetched from the object store (spec §6: persistent_cache_path /
// persistent_cache_size_gb). Get returns nil on a miss. *cache.PersistentCache
// satisfies this.
type BlockCache interface {
	Get(key string, offset, size int64) []byte
	Put(key string, offset int64, data []byte)
}

// Policy controls the dispatch decisions spec §4.4 names. KeepLocalSST
// decides whether an uploaded data file also stays on local disk;
// KeepLocalLog is carried here but no dispatch path reads it.
type Policy struct {
	KeepLocalSST   bool
	KeepLocalLog   bool
	HasDestination bool
}

// DefaultPolicy matches the spec's defaults.
func DefaultPolicy() Policy {
	return Policy{KeepLocalSST: true, KeepLocalLog: true}
}

// Environment is the engine-facing virtual filesystem.
type Environment struct {
	policy      Policy
	local       *localenv.Env
	source      objectstore.Prefix
	destination objectstore.Prefix
	store       Store
	manifest    *cloudmanifest.Coordinator
	deferredDel *deferred.Scheduler
	tailer      *tailer.Tailer
	stream      StreamAppender
	streamName  string
	blockCache  BlockCache
}

// Config gathers the collaborators an Environment dispatches across.
type Config struct {
	Policy      Policy
	Local       *localenv.Env
	Source      objectstore.Prefix
	Destination objectstore.Prefix
	Store       Store
	Manifest    *cloudmanifest.Coordinator
	DeferredDel *deferred.Scheduler
	Tailer      *tailer.Tailer
	Stream      StreamAppender
	StreamName  string
	// BlockCache is optional; nil disables the read-through cache and every
	// data-file remote read goes straight to Store.
	BlockCache BlockCache
}

// New constructs an Environment from its collaborators.
func New(cfg Config) *Environment {
	return &Environment{
		policy:      cfg.Policy,
		local:       cfg.Local,
		source:      cfg.Source,
		destination: cfg.Destination,
		store:       cfg.Store,
		manifest:    cfg.Manifest,
		deferredDel: cfg.DeferredDel,
		tailer:      cfg.Tailer,
		stream:      cfg.Stream,
		streamName:  cfg.StreamName,
		blockCache:  cfg.BlockCache,
	}
}

// bufferedWriter accumulates writes in memory and hands the full body to
// onClose, used for both the data-file upload path and plain local writes.
type bufferedWriter struct {
	buf     bytes.Buffer
	onClose func([]byte) error
}

func (w *bufferedWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *bufferedWriter) Close() error                { return w.onClose(w.buf.Bytes()) }

// logWriter submits one stream record per Write call, matching the
// tailer's {epoch, op, path, payload} wire format so the tailer that reads
// the same stream materializes the same bytes.
type logWriter struct {
	ctx    context.Context
	env    *Environment
	path   string
	stream StreamAppender
	name   string
}

func (w *logWriter) Write(p []byte) (int, error) {
	if err := w.emit(tailer.OpAppend, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *logWriter) Close() error {
	return w.emit(tailer.OpClose, nil)
}

func (w *logWriter) emit(op string, payload []byte) error {
	rec := tailer.Record{Epoch: w.env.epoch(), Op: op, Path: w.path, Payload: payload}
	data, err := json.Marshal(rec)
	if err != nil {
		return pkgerrors.NewError(pkgerrors.ErrCodeInternalError, "failed to encode stream record").
			WithComponent("vfs").WithOperation("write-log").WithCause(err)
	}
	return w.stream.Append(w.ctx, w.name, data)
}

func (e *Environment) epoch() string {
	if e.manifest == nil {
		return ""
	}
	return e.manifest.Epoch()
}

func (e *Environment) remap(name string) string {
	if e.manifest == nil {
		return name
	}
	return e.manifest.Remap(name)
}

// NewWritableFile opens path for writing, dispatching on its class per
// spec §4.4's "new-writable-file" row.
func (e *Environment) NewWritableFile(ctx context.Context, path string) (io.WriteCloser, error) {
	switch classify.Classify(path) {
	case classify.Data:
		return &bufferedWriter{onClose: func(data []byte) error {
			return e.commitDataFile(ctx, path, data)
		}}, nil
	case classify.Log:
		return &logWriter{ctx: ctx, env: e, path: path, stream: e.stream, name: e.streamName}, nil
	default:
		return &bufferedWriter{onClose: func(data []byte) error {
			return e.local.Write(path, data)
		}}, nil
	}
}

func (e *Environment) commitDataFile(ctx context.Context, path string, data []byte) error {
	if !e.policy.HasDestination {
		return e.local.Write(path, data)
	}

	remapped := e.remap(path)
	if err := e.store.Put(ctx, e.destination, remapped, data, objectstore.PutOptions{}); err != nil {
		return err
	}
	if e.deferredDel != nil {
		e.deferredDel.Cancel(remapped)
	}

	if e.policy.KeepLocalSST {
		return e.local.Write(path, data)
	}
	return nil
}

// ReadAt returns [offset, offset+size) of path, dispatching on its class
// per spec §4.4's read row. size=0 reads to EOF.
func (e *Environment) ReadAt(ctx context.Context, path string, offset, size int64) ([]byte, error) {
	switch classify.Classify(path) {
	case classify.Data:
		if e.local.Exists(path) {
			return e.local.ReadRange(path, offset, size)
		}
		remapped := e.remap(path)
		if e.blockCache != nil {
			if cached := e.blockCache.Get(remapped, offset, size); cached != nil {
				return cached, nil
			}
		}
		data, err := e.store.Get(ctx, e.source, remapped, offset, size)
		if err != nil {
			return nil, err
		}
		if e.blockCache != nil {
			e.blockCache.Put(remapped, offset, data)
		}
		return data, nil
	case classify.Log:
		cachePath := "cache/" + path
		return e.local.ReadRange(cachePath, offset, size)
	default:
		return e.local.ReadRange(path, offset, size)
	}
}

// FileExists reports whether path exists, dispatching per spec §4.4's
// "file-exists" row. Data presence is always checked against SOURCE
// directly: local caching must never let a stray local file masquerade as
// live.
func (e *Environment) FileExists(ctx context.Context, path string) bool {
	switch classify.Classify(path) {
	case classify.Data:
		_, err := e.store.Get(ctx, e.source, e.remap(path), 0, 0)
		return err == nil
	case classify.Log:
		return e.local.Exists("cache/" + path)
	default:
		return e.local.Exists(path)
	}
}

// GetSize returns path's size, dispatching per spec §4.4's "get-size" row.
func (e *Environment) GetSize(ctx context.Context, path string) (int64, error) {
	switch classify.Classify(path) {
	case classify.Data:
		info, err := e.store.Head(ctx, e.source, e.remap(path))
		if err != nil {
			return 0, err
		}
		return info.Size, nil
	case classify.Log:
		return e.local.Size("cache/" + path)
	default:
		return e.local.Size(path)
	}
}

// GetMtime returns path's modification time, dispatching per spec §4.4's
// "get-mtime" row.
func (e *Environment) GetMtime(ctx context.Context, path string) (time.Time, error) {
	switch classify.Classify(path) {
	case classify.Data:
		info, err := e.store.Head(ctx, e.source, e.remap(path))
		if err != nil {
			return time.Time{}, err
		}
		return info.Mtime, nil
	default:
		return e.local.Mtime(path)
	}
}

// DeleteFile removes path, dispatching per spec §4.4's "delete-file" row.
func (e *Environment) DeleteFile(ctx context.Context, path string) error {
	switch classify.Classify(path) {
	case classify.Data:
		if e.deferredDel != nil {
			e.deferredDel.Enqueue(e.remap(path), time.Now())
		}
		return e.local.Delete(path)
	case classify.Log:
		rec := tailer.Record{Epoch: e.epoch(), Op: tailer.OpDelete, Path: path}
		data, err := json.Marshal(rec)
		if err != nil {
			return pkgerrors.NewError(pkgerrors.ErrCodeInternalError, "failed to encode delete record").
				WithComponent("vfs").WithOperation("delete-file").WithCause(err)
		}
		return e.stream.Append(ctx, e.streamName, data)
	default:
		return e.local.Delete(path)
	}
}

// RenameFile renames oldPath to newPath. Renaming a data or log file is
// illegal and fails with NotSupported; only Other-class files may be
// renamed, and only locally.
func (e *Environment) RenameFile(_ context.Context, oldPath, newPath string) error {
	class := classify.Classify(oldPath)
	if class == classify.Data || class == classify.Log {
		return pkgerrors.NewError(pkgerrors.ErrCodeCloudNotSupported, "rename of a data or log file is not supported").
			WithComponent("vfs").WithOperation("rename-file").WithContext("path", oldPath)
	}
	return e.local.Rename(oldPath, newPath)
}

// ListChildren returns the union of SOURCE's listing and the local
// non-data entries under dir, per spec §4.4's "list-children" row. Local
// data-file entries are suppressed so a stray local copy can never
// masquerade as live.
func (e *Environment) ListChildren(ctx context.Context, dir string) ([]string, error) {
	seen := make(map[string]struct{})
	var children []string

	marker := ""
	for {
		keys, next, err := e.store.List(ctx, e.source, dir, marker, 0)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				children = append(children, key)
			}
		}
		if next == "" {
			break
		}
		marker = next
	}

	localNames, err := e.local.List(dir)
	if err != nil {
		return children, nil
	}
	for _, name := range localNames {
		if classify.Classify(name) == classify.Data {
			continue
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			children = append(children, name)
		}
	}

	return children, nil
}

// logstreamAppender adapts *logstream.Adapter to StreamAppender, discarding
// the assigned (shard, seqno) the engine does not need.
type logstreamAppender struct{ a *logstream.Adapter }

func (w logstreamAppender) Append(ctx context.Context, name string, record []byte) error {
	_, err := w.a.Append(ctx, name, record)
	return err
}

// WrapLogstream adapts a concrete stream client adapter to the
// StreamAppender interface the environment writes through.
func WrapLogstream(a *logstream.Adapter) StreamAppender {
	return logstreamAppender{a}
}
