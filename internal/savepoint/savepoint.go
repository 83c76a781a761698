// Package savepoint implements the clone materializer spec §4.10
// describes: copying a clone's still-source-only live files into its own
// destination prefix and rewriting its engine-manifest so the clone no
// longer depends on the source prefix at all.
package savepoint

import (
	"context"
	"errors"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/objectstore"
	pkgerrors "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/errors"
)

// Store is the subset of the object-store client adapter the materializer
// needs.
type Store interface {
	Head(ctx context.Context, prefix objectstore.Prefix, key string) (objectstore.ObjectInfo, error)
	Copy(ctx context.Context, srcPrefix objectstore.Prefix, srcKey string, dstPrefix objectstore.Prefix, dstKey string) error
}

// RewriteManifest rewrites the destination engine-manifest to reference
// only destination-side file names, once every live file has been copied.
// Manifest contents are opaque to this package, so the caller supplies
// this.
type RewriteManifest func(ctx context.Context) error

// Materialize copies every key in liveFiles not already present under dst
// from src to dst, then invokes rewrite. After it returns successfully the
// clone is independent of src: src's files become purgeable for this clone.
func Materialize(ctx context.Context, store Store, src, dst objectstore.Prefix, liveFiles []string, rewrite RewriteManifest) error {
	for _, key := range liveFiles {
		present, err := existsInDestination(ctx, store, dst, key)
		if err != nil {
			return err
		}
		if present {
			continue
		}
		if err := store.Copy(ctx, src, key, dst, key); err != nil {
			return err
		}
	}

	return rewrite(ctx)
}

func existsInDestination(ctx context.Context, store Store, dst objectstore.Prefix, key string) (bool, error) {
	_, err := store.Head(ctx, dst, key)
	if err == nil {
		return true, nil
	}
	var cloudErr *pkgerrors.CloudError
	if errors.As(err, &cloudErr) && cloudErr.Code == pkgerrors.ErrCodeCloudNotFound {
		return false, nil
	}
	return false, err
}
