// Package store declares the persistence port the sync engine writes its
// projections through. Implementations need point lookup with a nil
// fallback, a full scan, and two bulk write primitives: merge by key
// (shallow overlay onto the existing record) and replace by key (full
// overwrite). The engine never mutates a stored record through any other
// channel.
package store

import (
	"context"
	"encoding/json"

	"github.com/quentintaranpino/coracle/pkg/model"
)

// Bucket is one keyed record collection. Get returns nil without error when
// the key is absent. Scan visits every record in no particular order and
// stops at the first error fn returns. Within one bulk call the last write
// for a key wins.
type Bucket[R any] interface {
	Get(c context.Context, key string) (r *R, err error)
	Scan(c context.Context, fn func(r *R) error) (err error)
	BulkMerge(c context.Context, updates map[string]*R) (err error)
	BulkReplace(c context.Context, updates map[string]*R) (err error)
}

// T is the full set of collections the engine projects into.
type T interface {
	People() Bucket[model.Person]
	Rooms() Bucket[model.Room]
	Messages() Bucket[model.Message]
	Relays() Bucket[model.Relay]
	Routes() Bucket[model.Route]
	Close() (err error)
}

// MergeJSON overlays the fields present in next onto prev. Both documents
// are JSON objects; fields absent from next (zero values dropped by
// omitempty) survive from prev. The overlay is shallow, matching the
// engine's merge-by-key write semantics.
func MergeJSON(prev, next []byte) (merged []byte, err error) {
	var po, no map[string]json.RawMessage
	if err = json.Unmarshal(prev, &po); err != nil {
		return
	}
	if err = json.Unmarshal(next, &no); err != nil {
		return
	}
	for k, v := range no {
		po[k] = v
	}
	return json.Marshal(po)
}
