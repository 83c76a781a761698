// Package dbid is the registry spec §4.6 describes: a record per distinct
// database identity the engine has ever reported for a prefix, used to find
// identities no live engine-manifest references any more.
package dbid

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/objectstore"
	pkgerrors "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/errors"
)

// recordPrefix is the object-key namespace dbid records live under.
const recordPrefix = "dbids/"

// Record is the body stored for one identity.
type Record struct {
	Prefix string `json:"prefix"`
	Epoch  string `json:"epoch"`
}

// Store is the subset of the object-store client adapter the registry
// needs.
type Store interface {
	Put(ctx context.Context, prefix objectstore.Prefix, key string, data []byte, opts objectstore.PutOptions) error
	Get(ctx context.Context, prefix objectstore.Prefix, key string, offset, size int64) ([]byte, error)
	List(ctx context.Context, prefix objectstore.Prefix, subPrefix, marker string, max int) (keys []string, nextMarker string, err error)
}

// Registry records and resolves database identities for one prefix.
type Registry struct {
	store  Store
	prefix objectstore.Prefix
}

// New returns a registry for prefix.
func New(store Store, prefix objectstore.Prefix) *Registry {
	return &Registry{store: store, prefix: prefix}
}

// Register writes a dbids/<identity> record the first time the engine
// reports a fresh database identity on an owning open.
func (r *Registry) Register(ctx context.Context, identity, epoch string) error {
	body, err := json.Marshal(Record{Prefix: r.prefix.Path, Epoch: epoch})
	if err != nil {
		return pkgerrors.NewError(pkgerrors.ErrCodeInternalError, "failed to encode dbid record").
			WithComponent("dbid").WithOperation("register").WithCause(err)
	}
	return r.store.Put(ctx, r.prefix, recordPrefix+identity, body, objectstore.PutOptions{})
}

// Get returns the record for identity.
func (r *Registry) Get(ctx context.Context, identity string) (Record, error) {
	body, err := r.store.Get(ctx, r.prefix, recordPrefix+identity, 0, 0)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, pkgerrors.NewError(pkgerrors.ErrCodeCloudCorruption, "malformed dbid record").
			WithComponent("dbid").WithOperation("get").WithContext("identity", identity).WithCause(err)
	}
	return rec, nil
}

// List returns every identity currently registered under the prefix.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	var identities []string
	marker := ""
	for {
		keys, next, err := r.store.List(ctx, r.prefix, recordPrefix, marker, 0)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			identities = append(identities, strings.TrimPrefix(key, recordPrefix))
		}
		if next == "" {
			break
		}
		marker = next
	}
	return identities, nil
}

// ReferencedChecker reports whether identity is still referenced by any
// engine-manifest reachable from the live pointer.
type ReferencedChecker func(ctx context.Context, identity string) (bool, error)

// FindObsolete returns the identities List reports that isReferenced says
// are no longer referenced by any live engine-manifest under the prefix.
func (r *Registry) FindObsolete(ctx context.Context, isReferenced ReferencedChecker) ([]string, error) {
	identities, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var obsolete []string
	for _, identity := range identities {
		referenced, err := isReferenced(ctx, identity)
		if err != nil {
			return nil, err
		}
		if !referenced {
			obsolete = append(obsolete, identity)
		}
	}
	return obsolete, nil
}
