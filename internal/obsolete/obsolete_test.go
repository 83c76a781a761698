package obsolete

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/objectstore"
)

type fakeStore struct {
	keys []string
}

func (f *fakeStore) List(_ context.Context, _ objectstore.Prefix, _, marker string, _ int) ([]string, string, error) {
	if marker != "" {
		return nil, "", nil
	}
	return f.keys, "", nil
}

func TestFindObsoleteFiles(t *testing.T) {
	store := &fakeStore{keys: []string{
		"1.000001.sst",
		"1.000002.sst",
		"2.000001.sst", // stale epoch, no longer referenced
		"CLOUDMANIFEST",
		"MANIFEST-1-000001",
	}}

	live := map[string]struct{}{
		"1.000001.sst": {},
		"1.000002.sst": {},
	}

	obsolete, err := FindObsoleteFiles(context.Background(), store, objectstore.Prefix{Bucket: "b", Path: "db"}, func(context.Context) (map[string]struct{}, error) {
		return live, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2.000001.sst"}, obsolete)
}

func TestFindObsoleteFiles_NoneObsolete(t *testing.T) {
	store := &fakeStore{keys: []string{"1.000001.sst"}}
	live := map[string]struct{}{"1.000001.sst": {}}

	obsolete, err := FindObsoleteFiles(context.Background(), store, objectstore.Prefix{Bucket: "b", Path: "db"}, func(context.Context) (map[string]struct{}, error) {
		return live, nil
	})
	require.NoError(t, err)
	assert.Empty(t, obsolete)
}
