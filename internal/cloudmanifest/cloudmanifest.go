// Package cloudmanifest is the coordinator spec §4.5 calls the heart of the
// system: a pointer object names which engine-manifest is authoritative for
// a prefix, and the engine-manifest name embeds an epoch string so that two
// processes racing for the same prefix never overwrite each other's data
// files.
package cloudmanifest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/classify"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/objectstore"
	pkgerrors "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/errors"
)

// PointerObjectName is the well-known key naming the current engine-manifest.
const PointerObjectName = "CLOUDMANIFEST"

// EpochStrategy selects how new epochs are minted.
type EpochStrategy int

const (
	// NanosWithRandom mints epochs from wall-clock nanoseconds tie-broken
	// by a random suffix. This is the default.
	NanosWithRandom EpochStrategy = iota
	// MonotonicCounter mints epochs from a process-local monotonic
	// counter, useful in tests that need deterministic ordering.
	MonotonicCounter
)

// Mode distinguishes an ownership-acquiring open from a read-only open.
type Mode int

const (
	// ModeWriter runs the full open protocol: mints a new epoch and, once
	// the engine rolls its manifest, updates the pointer object.
	ModeWriter Mode = iota
	// ModeReader loads the currently pointed-to manifest without minting
	// an epoch or writing the pointer.
	ModeReader
)

// State is the result of Open: the epoch this session owns (ModeWriter) or
// observed (ModeReader), and the engine-manifest body to replay.
type State struct {
	Epoch         string
	PointerTarget string // engine-manifest name the pointer named at open time, "" if prefix was fresh
	ManifestBody  []byte
	FreshPrefix   bool
}

// Config configures epoch minting.
type Config struct {
	EpochStrategy EpochStrategy
}

// Store is the subset of the object-store client adapter the coordinator
// needs. Satisfied by *objectstore.Adapter; tests supply an in-memory fake.
type Store interface {
	Get(ctx context.Context, prefix objectstore.Prefix, key string, offset, size int64) ([]byte, error)
	Put(ctx context.Context, prefix objectstore.Prefix, key string, data []byte, opts objectstore.PutOptions) error
	Copy(ctx context.Context, srcPrefix objectstore.Prefix, srcKey string, dstPrefix objectstore.Prefix, dstKey string) error
}

// Coordinator owns the pointer object for one prefix.
type Coordinator struct {
	store  Store
	prefix objectstore.Prefix
	cfg    Config

	mu           sync.RWMutex
	epoch        string
	manifestName string // the engine-manifest name most recently uploaded by CommitManifest

	counter uint64 // MonotonicCounter strategy state
}

// New returns a coordinator for prefix.
func New(store Store, prefix objectstore.Prefix, cfg Config) *Coordinator {
	return &Coordinator{store: store, prefix: prefix, cfg: cfg}
}

// Open runs the open protocol described in spec §4.5: read the pointer,
// fetch the manifest it names, and mint a new epoch (ModeWriter only).
// CommitManifest later uploads the manifest under a name carrying that
// epoch, once the engine has rolled it.
func (c *Coordinator) Open(ctx context.Context, mode Mode) (*State, error) {
	target, err := c.store.Get(ctx, c.prefix, PointerObjectName, 0, 0)

	var cloudErr *pkgerrors.CloudError
	fresh := false
	switch {
	case err == nil:
		// target holds the engine-manifest name the pointer references.
	case errors.As(err, &cloudErr) && cloudErr.Code == pkgerrors.ErrCodeCloudNotFound:
		fresh = true
	default:
		return nil, err
	}

	state := &State{FreshPrefix: fresh}

	if !fresh {
		engineManifestName := string(target)
		body, err := c.store.Get(ctx, c.prefix, engineManifestName, 0, 0)
		if err != nil {
			if errors.As(err, &cloudErr) && cloudErr.Code == pkgerrors.ErrCodeCloudNotFound {
				return nil, pkgerrors.NewError(pkgerrors.ErrCodeCloudCorruption, "pointer references a missing engine-manifest").
					WithComponent("cloudmanifest").WithOperation("open").WithContext("target", engineManifestName)
			}
			return nil, err
		}
		state.PointerTarget = engineManifestName
		state.ManifestBody = body
		state.Epoch = epochFromManifestName(engineManifestName)
	}

	if mode == ModeWriter {
		epoch := c.mintEpoch()
		c.mu.Lock()
		c.epoch = epoch
		c.mu.Unlock()
		state.Epoch = epoch
	}

	return state, nil
}

// CommitManifest uploads the engine-manifest body under the epoch-prefixed
// name minted at Open, then atomically overwrites the pointer object to
// reference it. After this call returns successfully the caller is the
// owner of record for the prefix.
func (c *Coordinator) CommitManifest(ctx context.Context, engineBaseName string, body []byte) error {
	c.mu.RLock()
	epoch := c.epoch
	c.mu.RUnlock()
	if epoch == "" {
		return pkgerrors.NewError(pkgerrors.ErrCodeInternalError, "commit called without a minted epoch; Open(ModeWriter) first").
			WithComponent("cloudmanifest").WithOperation("commit-manifest")
	}

	manifestName := fmt.Sprintf("MANIFEST-%s-%s", epoch, engineBaseName)
	if err := c.store.Put(ctx, c.prefix, manifestName, body, objectstore.PutOptions{}); err != nil {
		return err
	}

	c.mu.Lock()
	c.manifestName = manifestName
	c.mu.Unlock()

	return c.store.Put(ctx, c.prefix, PointerObjectName, []byte(manifestName), objectstore.PutOptions{})
}

// Remap implements spec §4.5's read-path remapping: every data or log file
// read in SOURCE mode resolves through the currently loaded epoch so that
// two writers sharing a prefix never see each other's files.
func (c *Coordinator) Remap(name string) string {
	c.mu.RLock()
	epoch := c.epoch
	c.mu.RUnlock()
	if epoch == "" {
		return name
	}
	return classify.WithEpoch(epoch, name)
}

// Epoch returns the currently loaded epoch, "" if none has been assigned.
func (c *Coordinator) Epoch() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// CloneFrom implements the clone-open protocol: read src's pointer and copy
// (by reference only, no data motion) the engine-manifest it names into
// this coordinator's prefix, then the caller proceeds with the normal
// writer open protocol against this prefix.
func (c *Coordinator) CloneFrom(ctx context.Context, src objectstore.Prefix) error {
	srcStore := objectstore.Prefix{Bucket: src.Bucket, Path: src.Path}

	target, err := c.store.Get(ctx, srcStore, PointerObjectName, 0, 0)
	if err != nil {
		return err
	}
	manifestName := string(target)

	return c.store.Copy(ctx, srcStore, manifestName, c.prefix, manifestName)
}

func (c *Coordinator) mintEpoch() string {
	switch c.cfg.EpochStrategy {
	case MonotonicCounter:
		n := atomic.AddUint64(&c.counter, 1)
		return fmt.Sprintf("%020d", n)
	default:
		return nanosWithRandom()
	}
}

func nanosWithRandom() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%020d%s", time.Now().UnixNano(), hex.EncodeToString(buf))
}

// epochFromManifestName extracts the epoch component of a
// "MANIFEST-<epoch>-<engine-seq>" name.
func epochFromManifestName(name string) string {
	const prefix = "MANIFEST-"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return ""
	}
	rest := name[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '-' {
			return rest[:i]
		}
	}
	return rest
}
