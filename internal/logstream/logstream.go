// Package logstream is the stream client adapter spec §4.3 describes: a
// Kinesis-compatible append-only log used as a faster, lower-latency
// alternative to polling the object store for freshly written WAL data.
// It exposes create-stream, append (batched per spec §5's 100-record/1MiB
// cap), and resumable read by shard and sequence number.
package logstream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/batch"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/circuit"
	pkgerrors "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/errors"
	"github.com/Andrei-Masilevich/rocksdb-cloud/pkg/retry"
)

// maxRecordBytes is the spec's per-record cap (1 MiB, matching Kinesis'
// own limit).
const maxRecordBytes = 1024 * 1024

// maxBatchRecords is the spec's batch-size cap for Append calls.
const maxBatchRecords = 100

// AppendResult identifies where a record landed.
type AppendResult struct {
	Shard string
	SeqNo string
}

// Config configures the adapter's AWS session, batching, and retry policy.
type Config struct {
	Region   string
	Endpoint string

	RetryDelay  time.Duration
	RetryBudget time.Duration

	// BatchWait bounds how long Append buffers a record before flushing
	// a partial batch (spec §5: "100 records or 1 MiB, whichever first").
	BatchWait time.Duration
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		RetryDelay:  100 * time.Millisecond,
		RetryBudget: 10 * time.Second,
		BatchWait:   50 * time.Millisecond,
	}
}

// Adapter is the stream client adapter.
type Adapter struct {
	client  *kinesis.Client
	cfg     Config
	retryer *retry.Retryer
	breaker *circuit.CircuitBreaker
	logger  *slog.Logger

	batchers map[string]*batch.RecordBatcher
}

// New constructs an Adapter against the configured AWS session.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 10 * time.Second
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 50 * time.Millisecond
	}

	awsCfg, err := awssdkconfig.LoadDefaultConfig(ctx, awssdkconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, pkgerrors.NewError(pkgerrors.ErrCodeCloudPermanent, "failed to load AWS config").
			WithComponent("logstream").WithCause(err)
	}

	client := kinesis.NewFromConfig(awsCfg, func(o *kinesis.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Adapter{
		client:   client,
		cfg:      cfg,
		retryer:  retry.NewFixed(cfg.RetryDelay, cfg.RetryBudget),
		breaker:  circuit.NewCircuitBreaker("logstream", circuit.Config{MaxRequests: 1, Interval: 30 * time.Second, Timeout: 60 * time.Second}),
		logger:   slog.Default().With("component", "logstream"),
		batchers: make(map[string]*batch.RecordBatcher),
	}, nil
}

// CreateStream is idempotent: it waits until the stream reaches ACTIVE,
// tolerating a stream that already exists.
func (a *Adapter) CreateStream(ctx context.Context, name string, shards int32) error {
	if shards <= 0 {
		shards = 1
	}

	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			_, err := a.client.CreateStream(ctx, &kinesis.CreateStreamInput{
				StreamName: aws.String(name),
				ShardCount: aws.Int32(shards),
			})
			if err != nil {
				var inUse *kinesistypes.ResourceInUseException
				if errors.As(err, &inUse) {
					return nil
				}
				return translateError(err, "create-stream", name)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	return a.waitActive(ctx, name)
}

func (a *Adapter) waitActive(ctx context.Context, name string) error {
	for {
		out, err := a.client.DescribeStreamSummary(ctx, &kinesis.DescribeStreamSummaryInput{
			StreamName: aws.String(name),
		})
		if err != nil {
			return translateError(err, "describe-stream", name)
		}
		if out.StreamDescriptionSummary.StreamStatus == kinesistypes.StreamStatusActive {
			return nil
		}

		select {
		case <-ctx.Done():
			return pkgerrors.NewError(pkgerrors.ErrCodeCloudTimeout, "timed out waiting for stream to become active").
				WithComponent("logstream").WithOperation("create-stream").WithContext("stream", name)
		case <-time.After(a.cfg.RetryDelay):
		}
	}
}

// Append enqueues a record for batched delivery to name and waits until its
// batch flushes, returning the flush error. The returned AppendResult is
// empty: the shard and sequence number the stream assigns are not passed
// back. Records larger than the per-record cap are rejected immediately.
func (a *Adapter) Append(ctx context.Context, name string, record []byte) (AppendResult, error) {
	if len(record) > maxRecordBytes {
		return AppendResult{}, pkgerrors.NewError(pkgerrors.ErrCodeCloudPermanent, "record exceeds maximum size").
			WithComponent("logstream").WithOperation("append").WithContext("stream", name)
	}

	type outcome struct {
		result AppendResult
		err    error
	}
	done := make(chan outcome, 1)

	a.batcherFor(name).Add(batch.Record{
		Data: record,
		Done: func(err error) {
			done <- outcome{err: err}
		},
	})

	select {
	case <-ctx.Done():
		return AppendResult{}, ctx.Err()
	case o := <-done:
		return o.result, o.err
	}
}

func (a *Adapter) batcherFor(name string) *batch.RecordBatcher {
	if b, ok := a.batchers[name]; ok {
		return b
	}

	b := batch.NewRecordBatcher(maxBatchRecords, maxRecordBytes, a.cfg.BatchWait, func(records []batch.Record) {
		a.flush(name, records)
	})
	a.batchers[name] = b
	return b
}

func (a *Adapter) flush(name string, records []batch.Record) {
	ctx := context.Background()
	entries := make([]kinesistypes.PutRecordsRequestEntry, len(records))
	for i, r := range records {
		entries[i] = kinesistypes.PutRecordsRequestEntry{
			Data:         r.Data,
			PartitionKey: aws.String(name),
		}
	}

	var out *kinesis.PutRecordsOutput
	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			var innerErr error
			out, innerErr = a.client.PutRecords(ctx, &kinesis.PutRecordsInput{
				StreamName: aws.String(name),
				Records:    entries,
			})
			return translateError(innerErr, "append", name)
		})
	})

	for i, r := range records {
		if r.Done == nil {
			continue
		}
		if err != nil {
			r.Done(err)
			continue
		}
		entry := out.Records[i]
		if entry.ErrorCode != nil {
			r.Done(pkgerrors.NewError(pkgerrors.ErrCodeCloudTransient, aws.ToString(entry.ErrorMessage)).
				WithComponent("logstream").WithOperation("append").WithContext("stream", name))
			continue
		}
		r.Done(nil)
	}
}

// Read opens a resumable iterator starting immediately after fromSeqNo on
// shard, or at the trim horizon if fromSeqNo is empty.
func (a *Adapter) Read(ctx context.Context, name, shard, fromSeqNo string) (*Reader, error) {
	input := &kinesis.GetShardIteratorInput{
		StreamName: aws.String(name),
		ShardId:    aws.String(shard),
	}
	if fromSeqNo == "" {
		input.ShardIteratorType = kinesistypes.ShardIteratorTypeTrimHorizon
	} else {
		input.ShardIteratorType = kinesistypes.ShardIteratorTypeAfterSequenceNumber
		input.StartingSequenceNumber = aws.String(fromSeqNo)
	}

	var iterOut *kinesis.GetShardIteratorOutput
	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			var innerErr error
			iterOut, innerErr = a.client.GetShardIterator(ctx, input)
			return translateError(innerErr, "get-shard-iterator", name)
		})
	})
	if err != nil {
		return nil, err
	}

	return &Reader{
		adapter:  a,
		name:     name,
		shard:    shard,
		iterator: aws.ToString(iterOut.ShardIterator),
	}, nil
}

// GetLatestSeqNo returns the sequence number of the most recently written
// record on shard, or "" if the shard is empty.
func (a *Adapter) GetLatestSeqNo(ctx context.Context, name, shard string) (string, error) {
	reader, err := a.Read(ctx, name, shard, "")
	if err != nil {
		return "", err
	}

	latest := ""
	for {
		records, err := reader.Next(ctx)
		if err != nil {
			return "", err
		}
		if len(records) == 0 {
			return latest, nil
		}
		latest = records[len(records)-1].SeqNo
	}
}

// Record is a single entry returned from a Reader.
type Record struct {
	Data  []byte
	SeqNo string
}

// Reader is a resumable, stateful cursor over one shard.
type Reader struct {
	adapter  *Adapter
	name     string
	shard    string
	iterator string
}

// Next returns the next batch of records, possibly empty if the shard has
// caught up to the tip.
func (r *Reader) Next(ctx context.Context) ([]Record, error) {
	var out *kinesis.GetRecordsOutput
	err := r.adapter.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return r.adapter.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			var innerErr error
			out, innerErr = r.adapter.client.GetRecords(ctx, &kinesis.GetRecordsInput{
				ShardIterator: aws.String(r.iterator),
			})
			return translateError(innerErr, "get-records", r.name)
		})
	})
	if err != nil {
		return nil, err
	}

	r.iterator = aws.ToString(out.NextShardIterator)

	records := make([]Record, len(out.Records))
	for i, rec := range out.Records {
		records[i] = Record{Data: rec.Data, SeqNo: aws.ToString(rec.SequenceNumber)}
	}
	return records, nil
}

// translateError maps a Kinesis SDK error into the spec's error-kind
// taxonomy.
func translateError(err error, operation, name string) error {
	if err == nil {
		return nil
	}

	var notFound *kinesistypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return pkgerrors.NewError(pkgerrors.ErrCodeCloudNotFound, "stream not found").
			WithComponent("logstream").WithOperation(operation).WithContext("stream", name)
	}

	var expiredIterator *kinesistypes.ExpiredIteratorException
	if errors.As(err, &expiredIterator) {
		return pkgerrors.NewError(pkgerrors.ErrCodeCloudCorruption, "shard iterator expired").
			WithComponent("logstream").WithOperation(operation).WithContext("stream", name).WithCause(err)
	}

	var throughputExceeded *kinesistypes.ProvisionedThroughputExceededException
	if errors.As(err, &throughputExceeded) {
		return pkgerrors.NewError(pkgerrors.ErrCodeCloudTransient, "stream throughput exceeded").
			WithComponent("logstream").WithOperation(operation).WithContext("stream", name).WithCause(err)
	}

	var invalidArg *kinesistypes.InvalidArgumentException
	if errors.As(err, &invalidArg) {
		return pkgerrors.NewError(pkgerrors.ErrCodeCloudPermanent, "invalid stream request").
			WithComponent("logstream").WithOperation(operation).WithContext("stream", name).WithCause(err)
	}

	return pkgerrors.NewError(pkgerrors.ErrCodeCloudTransient, "stream request failed").
		WithComponent("logstream").WithOperation(operation).WithContext("stream", name).WithCause(err)
}

// Close releases adapter resources, flushing any pending batches.
func (a *Adapter) Close() error {
	for _, b := range a.batchers {
		b.Close()
	}
	return nil
}
