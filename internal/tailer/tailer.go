// Package tailer is the log-tailer spec §4.7 describes: a background task,
// one per open database, that consumes the stream adapter's append order
// and materializes WAL segments into a local cache directory so the engine
// can read them without going through the object store.
package tailer

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/batch"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/localenv"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/logstream"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/objectstore"
	pkgerrors "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/errors"
)

// Operation names carried on stream records (spec §6: "records carry
// {epoch, op, path, payload}").
const (
	OpAppend = "append"
	OpDelete = "delete"
	OpClose  = "close"
)

// Record is one stream entry.
type Record struct {
	Epoch   string `json:"epoch"`
	Op      string `json:"op"`
	Path    string `json:"path"`
	Payload []byte `json:"payload,omitempty"`
}

// Checkpoint is the tailer's resume point, persisted as a small object
// under tailer-checkpoint/<instance-id>.
type Checkpoint struct {
	Shard string `json:"shard"`
	SeqNo string `json:"seqno"`
}

// StreamRecord is a raw record read off a shard.
type StreamRecord struct {
	Data  []byte
	SeqNo string
}

// RecordReader is a resumable cursor over one shard, the shape
// *logstream.Reader satisfies via WrapLogstream.
type RecordReader interface {
	Next(ctx context.Context) ([]StreamRecord, error)
}

// Stream is the subset of the stream client adapter the tailer needs.
type Stream interface {
	Read(ctx context.Context, name, shard, fromSeqNo string) (RecordReader, error)
	GetLatestSeqNo(ctx context.Context, name, shard string) (string, error)
}

// CheckpointStore is the subset of the object-store client adapter the
// tailer needs to persist its resume point.
type CheckpointStore interface {
	Put(ctx context.Context, prefix objectstore.Prefix, key string, data []byte, opts objectstore.PutOptions) error
	Get(ctx context.Context, prefix objectstore.Prefix, key string, offset, size int64) ([]byte, error)
}

// Config configures one tailer instance.
type Config struct {
	StreamName string
	Shard      string
	InstanceID string

	// CheckpointEvery and CheckpointInterval bound how often the resume
	// point is persisted (spec: "every N records or T seconds").
	CheckpointEvery    int
	CheckpointInterval time.Duration

	// RetryDelay bounds the sleep between reads after a transient stream
	// failure.
	RetryDelay time.Duration
}

// DefaultConfig fills in the spec's checkpoint cadence.
func DefaultConfig() Config {
	return Config{
		CheckpointEvery:    100,
		CheckpointInterval: 5 * time.Second,
		RetryDelay:         time.Second,
	}
}

// Tailer runs the background consume loop and owns a local cache
// directory.
type Tailer struct {
	cfg        Config
	stream     Stream
	checkpoint CheckpointStore
	prefix     objectstore.Prefix
	cache      *localenv.Env
	logger     *slog.Logger

	unhealthy atomic.Bool
	lastErr   atomic.Value // error

	// checkpointBatch triggers flushCheckpoint every CheckpointEvery seqno
	// advances or every CheckpointInterval, whichever comes first (spec
	// §4.7: "batches checkpoint writes every N records or T seconds"). Its
	// flush callback ignores the batched records themselves and persists
	// whatever Checkpoint is current at flush time: the tailer only ever
	// needs the latest (shard, seqno), not the individual advances that
	// triggered the flush.
	checkpointBatch *batch.RecordBatcher

	mu          sync.Mutex
	closedFiles map[string]struct{}
	current     Checkpoint

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Tailer. cache is the local directory its Append/Delete/
// Close operations materialize files under.
func New(cfg Config, stream Stream, checkpoint CheckpointStore, prefix objectstore.Prefix, cache *localenv.Env) *Tailer {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 100
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	t := &Tailer{
		cfg:         cfg,
		stream:      stream,
		checkpoint:  checkpoint,
		prefix:      prefix,
		cache:       cache,
		logger:      slog.Default().With("component", "tailer"),
		closedFiles: make(map[string]struct{}),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	t.checkpointBatch = batch.NewRecordBatcher(cfg.CheckpointEvery, math.MaxInt64, cfg.CheckpointInterval,
		func([]batch.Record) { t.flushCheckpoint(context.Background()) })
	return t
}

func (t *Tailer) checkpointKey() string {
	return "tailer-checkpoint/" + t.cfg.InstanceID
}

// Start loads the persisted checkpoint (or the latest seqno if absent) and
// launches the background consume loop.
func (t *Tailer) Start(ctx context.Context) error {
	cp, err := t.loadCheckpoint(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.current = cp
	t.mu.Unlock()

	go t.run(ctx)
	return nil
}

// Checkpoint returns the tailer's current resume point.
func (t *Tailer) Checkpoint() Checkpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Tailer) loadCheckpoint(ctx context.Context) (Checkpoint, error) {
	body, err := t.checkpoint.Get(ctx, t.prefix, t.checkpointKey(), 0, 0)
	var cloudErr *pkgerrors.CloudError
	if err != nil {
		if asNotFound(err, &cloudErr) {
			seqno, err := t.stream.GetLatestSeqNo(ctx, t.cfg.StreamName, t.cfg.Shard)
			if err != nil {
				return Checkpoint{}, err
			}
			return Checkpoint{Shard: t.cfg.Shard, SeqNo: seqno}, nil
		}
		return Checkpoint{}, err
	}

	var cp Checkpoint
	if err := json.Unmarshal(body, &cp); err != nil {
		return Checkpoint{}, pkgerrors.NewError(pkgerrors.ErrCodeCloudCorruption, "malformed tailer checkpoint").
			WithComponent("tailer").WithOperation("start").WithCause(err)
	}
	return cp, nil
}

// Stop signals the consume loop to exit and waits for it to finish.
func (t *Tailer) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

// Healthy reports whether the tailer has not hit a fatal decode error. Once
// false it stays false. The virtual environment's log operations do not
// consult it and keep running after the tailer turns unhealthy.
func (t *Tailer) Healthy() bool {
	return !t.unhealthy.Load()
}

// LastError returns the error that made the tailer unhealthy, nil if none.
func (t *Tailer) LastError() error {
	if v := t.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.doneCh)
	defer t.checkpointBatch.Close()

	for {
		select {
		case <-t.stopCh:
			t.flushCheckpoint(ctx)
			return
		case <-ctx.Done():
			t.flushCheckpoint(ctx)
			return
		default:
		}

		cp := t.Checkpoint()
		reader, err := t.stream.Read(ctx, t.cfg.StreamName, cp.Shard, cp.SeqNo)
		if err != nil {
			t.sleepOrStop(ctx)
			continue
		}

		t.consume(ctx, reader)
	}
}

func (t *Tailer) consume(ctx context.Context, reader RecordReader) {
	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		records, err := reader.Next(ctx)
		if err != nil {
			t.sleepOrStop(ctx)
			return
		}

		for _, raw := range records {
			var rec Record
			if err := json.Unmarshal(raw.Data, &rec); err != nil {
				t.markUnhealthy(pkgerrors.NewError(pkgerrors.ErrCodeCloudCorruption, "malformed stream record").
					WithComponent("tailer").WithOperation("consume").WithCause(err))
				return
			}

			if err := t.apply(rec); err != nil {
				t.markUnhealthy(err)
				return
			}

			t.mu.Lock()
			t.current.SeqNo = raw.SeqNo
			t.mu.Unlock()
			t.checkpointBatch.Add(batch.Record{Data: []byte(raw.SeqNo)})
		}

		if len(records) == 0 {
			time.Sleep(t.cfg.RetryDelay)
		}
	}
}

func (t *Tailer) apply(rec Record) error {
	switch rec.Op {
	case OpAppend:
		return t.cache.Append(rec.Path, rec.Payload)
	case OpDelete:
		return t.cache.Delete(rec.Path)
	case OpClose:
		t.mu.Lock()
		t.closedFiles[rec.Path] = struct{}{}
		t.mu.Unlock()
		return nil
	default:
		return pkgerrors.NewError(pkgerrors.ErrCodeCloudCorruption, "unknown stream record operation").
			WithComponent("tailer").WithOperation("apply").WithContext("op", rec.Op)
	}
}

// IsClosed reports whether path has seen a Close record.
func (t *Tailer) IsClosed(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.closedFiles[path]
	return ok
}

// flushCheckpoint persists the current (shard, seqno). Called directly on
// shutdown for a guaranteed final write, and from checkpointBatch's flush
// callback once CheckpointEvery advances or CheckpointInterval have
// accumulated.
func (t *Tailer) flushCheckpoint(ctx context.Context) {
	t.mu.Lock()
	cp := t.current
	t.mu.Unlock()

	body, err := json.Marshal(cp)
	if err != nil {
		return
	}
	if err := t.checkpoint.Put(ctx, t.prefix, t.checkpointKey(), body, objectstore.PutOptions{}); err != nil {
		t.logger.Warn("checkpoint write failed, will retry on next flush", "error", err)
	}
}

func (t *Tailer) markUnhealthy(err error) {
	t.unhealthy.Store(true)
	t.lastErr.Store(err)
	t.logger.Error("tailer unhealthy after fatal error", "error", err)
}

func (t *Tailer) sleepOrStop(ctx context.Context) {
	select {
	case <-t.stopCh:
	case <-ctx.Done():
	case <-time.After(t.cfg.RetryDelay):
	}
}

func asNotFound(err error, target **pkgerrors.CloudError) bool {
	ce, ok := err.(*pkgerrors.CloudError)
	if !ok {
		return false
	}
	*target = ce
	return ce.Code == pkgerrors.ErrCodeCloudNotFound
}

// logstreamReader adapts *logstream.Reader to RecordReader.
type logstreamReader struct{ r *logstream.Reader }

func (w logstreamReader) Next(ctx context.Context) ([]StreamRecord, error) {
	recs, err := w.r.Next(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StreamRecord, len(recs))
	for i, rec := range recs {
		out[i] = StreamRecord{Data: rec.Data, SeqNo: rec.SeqNo}
	}
	return out, nil
}

// logstreamAdapter adapts *logstream.Adapter to Stream.
type logstreamAdapter struct{ a *logstream.Adapter }

func (w logstreamAdapter) Read(ctx context.Context, name, shard, fromSeqNo string) (RecordReader, error) {
	r, err := w.a.Read(ctx, name, shard, fromSeqNo)
	if err != nil {
		return nil, err
	}
	return logstreamReader{r}, nil
}

func (w logstreamAdapter) GetLatestSeqNo(ctx context.Context, name, shard string) (string, error) {
	return w.a.GetLatestSeqNo(ctx, name, shard)
}

// WrapLogstream adapts a concrete stream client adapter to the Stream
// interface the tailer consumes.
func WrapLogstream(a *logstream.Adapter) Stream {
	return logstreamAdapter{a}
}
