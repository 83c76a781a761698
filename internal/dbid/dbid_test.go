package dbid

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/objectstore"
	pkgerrors "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/errors"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Put(_ context.Context, prefix objectstore.Prefix, key string, data []byte, _ objectstore.PutOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[prefix.Key(key)] = data
	return nil
}

func (f *fakeStore) Get(_ context.Context, prefix objectstore.Prefix, key string, _, _ int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[prefix.Key(key)]
	if !ok {
		return nil, pkgerrors.NewError(pkgerrors.ErrCodeCloudNotFound, "not found")
	}
	return data, nil
}

func (f *fakeStore) List(_ context.Context, prefix objectstore.Prefix, subPrefix, _ string, _ int) ([]string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	full := prefix.Key(subPrefix)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, full) {
			keys = append(keys, k)
		}
	}
	return keys, "", nil
}

func TestRegisterAndGet(t *testing.T) {
	store := newFakeStore()
	prefix := objectstore.Prefix{Bucket: "b", Path: "db"}
	reg := New(store, prefix)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "identity-a", "epoch-1"))

	rec, err := reg.Get(ctx, "identity-a")
	require.NoError(t, err)
	assert.Equal(t, "epoch-1", rec.Epoch)
	assert.Equal(t, "db", rec.Prefix)
}

func TestList(t *testing.T) {
	store := newFakeStore()
	prefix := objectstore.Prefix{Bucket: "b", Path: "db"}
	reg := New(store, prefix)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "a", "e1"))
	require.NoError(t, reg.Register(ctx, "b", "e2"))

	identities, err := reg.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, identities)
}

func TestFindObsolete(t *testing.T) {
	store := newFakeStore()
	prefix := objectstore.Prefix{Bucket: "b", Path: "db"}
	reg := New(store, prefix)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "live", "e1"))
	require.NoError(t, reg.Register(ctx, "stale", "e2"))

	obsolete, err := reg.FindObsolete(ctx, func(_ context.Context, identity string) (bool, error) {
		return identity == "live", nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, obsolete)
}
