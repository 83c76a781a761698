// Package batch accumulates opaque records for combined flush once a count,
// byte-size, or time threshold fires.
package batch

import (
	"sync"
	"time"
)

// Record is a single opaque payload queued for batched delivery.
type Record struct {
	Data []byte
	Done func(error)
}

// RecordBatcher accumulates records until a count threshold, a total-size
// threshold, or a time threshold fires, then hands the accumulated batch to
// Flush. It serves the stream adapter's Append batching (spec §5: "stream
// batch size 100 records or 1 MiB").
type RecordBatcher struct {
	maxCount int
	maxBytes int64
	maxWait  time.Duration
	flush    func([]Record)

	mu      sync.Mutex
	pending []Record
	bytes   int64
	timer   *time.Timer
	closed  bool
}

// NewRecordBatcher creates a batcher that calls flush once maxCount records,
// maxBytes total size, or maxWait elapsed since the first buffered record,
// whichever comes first.
func NewRecordBatcher(maxCount int, maxBytes int64, maxWait time.Duration, flush func([]Record)) *RecordBatcher {
	if maxCount <= 0 {
		maxCount = 100
	}
	if maxBytes <= 0 {
		maxBytes = 1024 * 1024
	}
	if maxWait <= 0 {
		maxWait = time.Second
	}
	return &RecordBatcher{
		maxCount: maxCount,
		maxBytes: maxBytes,
		maxWait:  maxWait,
		flush:    flush,
	}
}

// Add enqueues a record, triggering an immediate flush if a threshold is
// exceeded or arming the wait timer otherwise.
func (b *RecordBatcher) Add(r Record) {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		if r.Done != nil {
			r.Done(errClosed)
		}
		return
	}

	b.pending = append(b.pending, r)
	b.bytes += int64(len(r.Data))

	if len(b.pending) >= b.maxCount || b.bytes >= b.maxBytes {
		batch := b.drainLocked()
		b.mu.Unlock()
		b.flush(batch)
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.maxWait, b.fireTimer)
	}
	b.mu.Unlock()
}

func (b *RecordBatcher) fireTimer() {
	b.mu.Lock()
	batch := b.drainLocked()
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(batch)
	}
}

// drainLocked returns the pending records and resets buffering state. Caller
// must hold b.mu.
func (b *RecordBatcher) drainLocked() []Record {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.pending
	b.pending = nil
	b.bytes = 0
	return batch
}

// Close flushes any buffered records and stops accepting new ones.
func (b *RecordBatcher) Close() {
	b.mu.Lock()
	b.closed = true
	batch := b.drainLocked()
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(batch)
	}
}

var errClosed = batcherClosedError{}

type batcherClosedError struct{}

func (batcherClosedError) Error() string { return "record batcher is closed" }
