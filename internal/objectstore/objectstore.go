// Package objectstore is the thin façade over a remote blob store that
// spec §4.2 calls the object-store client adapter: Put, ranged Get, Head,
// List(prefix), Delete, Copy, and bucket-create, with server-side
// encryption options and a fixed-delay retry policy for transient errors.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/circuit"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/metrics"
	storages3 "github.com/Andrei-Masilevich/rocksdb-cloud/internal/storage/s3"
	pkgerrors "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/errors"
	"github.com/Andrei-Masilevich/rocksdb-cloud/pkg/retry"
)

// Prefix names a logical database location: a bucket plus an object-path
// prefix inside it. Equal source and destination prefixes mean a plain
// open; unequal means a clone.
type Prefix struct {
	Bucket string
	Path   string
}

// Key joins the prefix path and a relative object name into a full key.
func (p Prefix) Key(name string) string {
	if p.Path == "" {
		return name
	}
	return strings.TrimSuffix(p.Path, "/") + "/" + strings.TrimPrefix(name, "/")
}

// PutOptions controls server-side encryption on upload.
type PutOptions struct {
	ServerSideEncryption bool
	EncryptionKeyID      string
}

// ObjectInfo is the size/mtime pair returned by Head.
type ObjectInfo struct {
	Size  int64
	Mtime time.Time
}

// Config configures the adapter's AWS session and retry budget. The circuit
// breaker's settings are fixed in New and are not configurable here.
type Config struct {
	Region         string
	Endpoint       string
	AccessKeyID    string
	SecretAccessKey string
	ForcePathStyle bool

	// RetryDelay and RetryBudget parameterize the fixed-delay retry loop
	// (spec §4.2: 100ms fixed sleep up to a configurable budget).
	RetryDelay  time.Duration
	RetryBudget time.Duration

	ListPageSize int
	PoolSize     int

	EnableUploadOptimization bool

	// Metrics is optional; when set, every call records its duration, size,
	// and outcome against it.
	Metrics *metrics.Collector
}

// DefaultConfig returns the spec's defaults: 100ms/10s retry, page size 50.
func DefaultConfig() Config {
	return Config{
		RetryDelay:               100 * time.Millisecond,
		RetryBudget:              10 * time.Second,
		ListPageSize:             50,
		PoolSize:                 8,
		EnableUploadOptimization: true,
	}
}

// Adapter is the object-store client adapter.
type Adapter struct {
	client  *s3.Client
	pool    *storages3.ConnectionPool
	cfg     Config
	retryer *retry.Retryer
	breaker *circuit.CircuitBreaker
	logger  *slog.Logger

	transporter *cargoships3.Transporter
	metrics     *metrics.Collector
}

// record reports one completed call to the configured metrics collector,
// a no-op when none is set.
func (a *Adapter) record(operation string, start time.Time, size int64, err error) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordOperation(operation, time.Since(start), size, err == nil)
	if err != nil {
		a.metrics.RecordError(operation, err)
	}
}

// New constructs an Adapter against the configured AWS session.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 10 * time.Second
	}
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = 50
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}

	awsCfg, err := awssdkconfig.LoadDefaultConfig(ctx, awssdkconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, pkgerrors.NewError(pkgerrors.ErrCodeCloudPermanent, "failed to load AWS config").
			WithComponent("objectstore").WithCause(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	pool, err := storages3.NewConnectionPool(cfg.PoolSize, func() (*s3.Client, error) {
		return s3.NewFromConfig(awsCfg), nil
	})
	if err != nil {
		return nil, pkgerrors.NewError(pkgerrors.ErrCodeCloudPermanent, "failed to create connection pool").
			WithComponent("objectstore").WithCause(err)
	}

	var transporter *cargoships3.Transporter
	if cfg.EnableUploadOptimization {
		transporter = cargoships3.NewTransporter(client, awsconfig.S3Config{
			StorageClass:       awsconfig.StorageClassStandard,
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        cfg.PoolSize,
		})
	}

	return &Adapter{
		client:      client,
		pool:        pool,
		cfg:         cfg,
		retryer:     retry.NewFixed(cfg.RetryDelay, cfg.RetryBudget),
		breaker:     circuit.NewCircuitBreaker("objectstore", circuit.Config{MaxRequests: 1, Interval: 30 * time.Second, Timeout: 60 * time.Second}),
		logger:      slog.Default().With("component", "objectstore"),
		transporter: transporter,
		metrics:     cfg.Metrics,
	}, nil
}

// Put uploads bytes under prefix/key, durable after success. It is retried
// on transient failure per the fixed-delay policy, and protected by a
// circuit breaker so a persistently-down store fails fast.
func (a *Adapter) Put(ctx context.Context, prefix Prefix, key string, data []byte, opts PutOptions) error {
	fullKey := prefix.Key(key)
	start := time.Now()

	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			return a.put(ctx, prefix.Bucket, fullKey, data, opts)
		})
	})
	a.record("put", start, int64(len(data)), err)
	return err
}

func (a *Adapter) put(ctx context.Context, bucket, key string, data []byte, opts PutOptions) error {
	if a.transporter != nil && !opts.ServerSideEncryption {
		archive := cargoships3.Archive{
			Key:          key,
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: awsconfig.StorageClassStandard,
		}
		if _, err := a.transporter.Upload(ctx, archive); err == nil {
			return nil
		}
		a.logger.Warn("upload optimization failed, falling back to plain PutObject", "key", key)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if opts.ServerSideEncryption {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
		if opts.EncryptionKeyID != "" {
			input.SSEKMSKeyId = aws.String(opts.EncryptionKeyID)
		}
	}

	client := a.pool.Get()
	if client == nil {
		client = a.client
	}
	defer a.pool.Put(client)

	_, err := client.PutObject(ctx, input)
	return translateError(err, "put", key)
}

// Get returns the byte range [offset, offset+size) of prefix/key. offset=0,
// size=0 is the approved existence/size probe: list is eventually
// consistent and must not be used for existence checks.
func (a *Adapter) Get(ctx context.Context, prefix Prefix, key string, offset, size int64) ([]byte, error) {
	fullKey := prefix.Key(key)
	start := time.Now()
	var data []byte

	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			var err error
			data, err = a.get(ctx, prefix.Bucket, fullKey, offset, size)
			return err
		})
	})
	a.record("get", start, int64(len(data)), err)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (a *Adapter) get(ctx context.Context, bucket, key string, offset, size int64) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if offset > 0 || size > 0 {
		if size > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
	}

	client := a.pool.Get()
	if client == nil {
		client = a.client
	}
	defer a.pool.Put(client)

	result, err := client.GetObject(ctx, input)
	if err != nil {
		return nil, translateError(err, "get", key)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, pkgerrors.NewError(pkgerrors.ErrCodeCloudTransient, "failed to read object body").
			WithComponent("objectstore").WithOperation("get").WithCause(err)
	}
	return data, nil
}

// Head returns size and mtime for prefix/key, using a HeadObject request.
func (a *Adapter) Head(ctx context.Context, prefix Prefix, key string) (ObjectInfo, error) {
	fullKey := prefix.Key(key)
	start := time.Now()
	var info ObjectInfo

	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			var err error
			info, err = a.head(ctx, prefix.Bucket, fullKey)
			return err
		})
	})
	a.record("head", start, 0, err)
	if err != nil {
		return ObjectInfo{}, err
	}
	return info, nil
}

func (a *Adapter) head(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	client := a.pool.Get()
	if client == nil {
		client = a.client
	}
	defer a.pool.Put(client)

	result, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, translateError(err, "head", key)
	}

	return ObjectInfo{
		Size:  aws.ToInt64(result.ContentLength),
		Mtime: aws.ToTime(result.LastModified),
	}, nil
}

// List iterates keys under prefix/subPrefix, paged with ListPageSize (spec
// default 50, overridable). Callers must not rely on the listing reflecting
// just-written objects.
func (a *Adapter) List(ctx context.Context, prefix Prefix, subPrefix, marker string, max int) (keys []string, nextMarker string, err error) {
	if max <= 0 || max > a.cfg.ListPageSize {
		max = a.cfg.ListPageSize
	}
	fullPrefix := prefix.Key(subPrefix)
	start := time.Now()

	err = a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			var innerErr error
			keys, nextMarker, innerErr = a.list(ctx, prefix.Bucket, fullPrefix, marker, max)
			return innerErr
		})
	})
	a.record("list", start, int64(len(keys)), err)
	return keys, nextMarker, err
}

func (a *Adapter) list(ctx context.Context, bucket, prefix, marker string, max int) ([]string, string, error) {
	client := a.pool.Get()
	if client == nil {
		client = a.client
	}
	defer a.pool.Put(client)

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(max)),
	}
	if marker != "" {
		input.ContinuationToken = aws.String(marker)
	}

	result, err := client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, "", translateError(err, "list", prefix)
	}

	keys := make([]string, 0, len(result.Contents))
	for _, obj := range result.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}

	next := ""
	if result.NextContinuationToken != nil {
		next = aws.ToString(result.NextContinuationToken)
	}
	return keys, next, nil
}

// Delete removes prefix/key. It is idempotent: NotFound is treated as
// success.
func (a *Adapter) Delete(ctx context.Context, prefix Prefix, key string) error {
	fullKey := prefix.Key(key)
	start := time.Now()

	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			return a.delete(ctx, prefix.Bucket, fullKey)
		})
	})
	a.record("delete", start, 0, err)

	var cloudErr *pkgerrors.CloudError
	if errors.As(err, &cloudErr) && cloudErr.Code == pkgerrors.ErrCodeCloudNotFound {
		return nil
	}
	return err
}

func (a *Adapter) delete(ctx context.Context, bucket, key string) error {
	client := a.pool.Get()
	if client == nil {
		client = a.client
	}
	defer a.pool.Put(client)

	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return translateError(err, "delete", key)
}

// Copy performs a server-side copy from srcPrefix/srcKey to dstPrefix/dstKey,
// atomic per object.
func (a *Adapter) Copy(ctx context.Context, srcPrefix Prefix, srcKey string, dstPrefix Prefix, dstKey string) error {
	fullSrcKey := srcPrefix.Key(srcKey)
	fullDstKey := dstPrefix.Key(dstKey)

	return a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			return a.copy(ctx, srcPrefix.Bucket, fullSrcKey, dstPrefix.Bucket, fullDstKey)
		})
	})
}

func (a *Adapter) copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	client := a.pool.Get()
	if client == nil {
		client = a.client
	}
	defer a.pool.Put(client)

	source := fmt.Sprintf("%s/%s", srcBucket, srcKey)
	_, err := client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(source),
	})
	return translateError(err, "copy", srcKey)
}

// CreateBucket is idempotent: an already-existing bucket is not an error.
func (a *Adapter) CreateBucket(ctx context.Context, prefix Prefix) error {
	client := a.pool.Get()
	if client == nil {
		client = a.client
	}
	defer a.pool.Put(client)

	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(prefix.Bucket),
	})
	if err == nil {
		return nil
	}

	var alreadyOwned *s3types.BucketAlreadyOwnedByYou
	var alreadyExists *s3types.BucketAlreadyExists
	if errors.As(err, &alreadyOwned) || errors.As(err, &alreadyExists) {
		return nil
	}
	return translateError(err, "create-bucket", prefix.Bucket)
}

// HealthCheck verifies the underlying connection is reachable.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	client := a.pool.Get()
	if client == nil {
		client = a.client
	}
	defer a.pool.Put(client)

	_, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return pkgerrors.NewError(pkgerrors.ErrCodeCloudTransient, "object store health check failed").
			WithComponent("objectstore").WithCause(err)
	}
	return nil
}

// Close releases the adapter's connection pool.
func (a *Adapter) Close() error {
	return a.pool.Close()
}

// translateError maps an AWS SDK error into the spec's error-kind taxonomy:
// NotFound, Transient (5xx/network), or Permanent (4xx/bad args).
func translateError(err error, operation, key string) error {
	if err == nil {
		return nil
	}

	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return pkgerrors.NewError(pkgerrors.ErrCodeCloudNotFound, "object not found").
			WithComponent("objectstore").WithOperation(operation).WithContext("key", key)
	}

	var noSuchBucket *s3types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return pkgerrors.NewError(pkgerrors.ErrCodeCloudNotFound, "bucket not found").
			WithComponent("objectstore").WithOperation(operation).WithContext("key", key)
	}

	if isClientError(err) {
		return pkgerrors.NewError(pkgerrors.ErrCodeCloudPermanent, "object store rejected request").
			WithComponent("objectstore").WithOperation(operation).WithContext("key", key).WithCause(err)
	}

	return pkgerrors.NewError(pkgerrors.ErrCodeCloudTransient, "object store request failed").
		WithComponent("objectstore").WithOperation(operation).WithContext("key", key).WithCause(err)
}

// isClientError reports whether err carries an HTTP 4xx response status,
// which the spec treats as Permanent rather than retryable.
func isClientError(err error) bool {
	type httpStatusCarrier interface {
		HTTPStatusCode() int
	}
	var carrier httpStatusCarrier
	if errors.As(err, &carrier) {
		code := carrier.HTTPStatusCode()
		return code >= 400 && code < 500
	}
	return false
}
