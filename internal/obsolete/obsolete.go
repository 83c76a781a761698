// Package obsolete finds objects under a prefix that no live engine-manifest
// references any more: every data or log file key in the prefix's listing
// that is absent from the caller-supplied live key set is reported as
// obsolete. Epoch prefixes are not examined.
package obsolete

import (
	"context"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/classify"
	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/objectstore"
)

// Store is the subset of the object-store client adapter the finder needs.
type Store interface {
	List(ctx context.Context, prefix objectstore.Prefix, subPrefix, marker string, max int) (keys []string, nextMarker string, err error)
}

// LiveSetResolver returns the full set of live, already epoch-remapped file
// keys reachable from the prefix's current pointer and any live clone
// sources. Manifest contents are opaque to this package, so the caller
// (which holds the engine binding) supplies this.
type LiveSetResolver func(ctx context.Context) (map[string]struct{}, error)

// FindObsoleteFiles lists prefix and reports every data or log file key not
// present in the live set resolver returns: the set-difference
// list(prefix) \ union(live-files-of-each-reachable-engine-manifest).
func FindObsoleteFiles(ctx context.Context, store Store, prefix objectstore.Prefix, resolveLive LiveSetResolver) ([]string, error) {
	live, err := resolveLive(ctx)
	if err != nil {
		return nil, err
	}

	all, err := listAll(ctx, store, prefix)
	if err != nil {
		return nil, err
	}

	var obsolete []string
	for _, key := range all {
		class := classify.Classify(key)
		if class == classify.Other {
			continue
		}
		if _, ok := live[key]; !ok {
			obsolete = append(obsolete, key)
		}
	}
	return obsolete, nil
}

func listAll(ctx context.Context, store Store, prefix objectstore.Prefix) ([]string, error) {
	var all []string
	marker := ""
	for {
		keys, next, err := store.List(ctx, prefix, "", marker, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
		if next == "" {
			return all, nil
		}
		marker = next
	}
}
