// Package routes turns scattered relay evidence into reliability scores per
// (pubkey, relay url, mode) tuple. Scoring is a pure computation over the
// single stored route record; callers persist the result.
package routes

import (
	"context"
	"encoding/hex"
	"os"

	"github.com/minio/sha256-simd"
	"github.com/nbd-wtf/go-nostr"

	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/slog"
	"github.com/quentintaranpino/coracle/pkg/store"
)

var log, chk = slog.New(os.Stderr)

// Evidence types, named after the event kinds that carry them.
const (
	NIP05     = "nip05"
	RelayList = "kind:10002"
	Contacts  = "kind:3"
	Announce  = "kind:2"
	Seen      = "seen"
)

const (
	ModeRead  = "read"
	ModeWrite = "write"
)

// thirtyDays is the linear decay window in seconds; evidence older than
// this scores non-positive and is dropped.
const thirtyDays = 30 * 24 * 60 * 60

// Weight returns the fixed per-evidence-type weight. Unknown types weigh
// nothing and therefore never produce an update.
func Weight(evidence string) (w float64) {
	switch evidence {
	case NIP05:
		return 1
	case RelayList:
		return 1
	case Contacts:
		return 0.8
	case Announce:
		return 0.5
	case Seen:
		return 0.2
	}
	return 0
}

// ID derives the stable route key for a (pubkey, normalized url, mode)
// tuple. Route ids are persisted, so the hash must survive restarts.
func ID(pubkey, url, mode string) (id string) {
	h := sha256.Sum256([]byte(pubkey + url + mode))
	return hex.EncodeToString(h[:])
}

// Scorer folds evidence observations into stored route records.
type Scorer struct {
	Routes store.Bucket[model.Route]
	// Now is swappable for tests; nil means wall clock.
	Now func() nostr.Timestamp
}

func (s *Scorer) now() nostr.Timestamp {
	if s.Now != nil {
		return s.Now()
	}
	return nostr.Now()
}

// Score computes the updated route for one observation. It returns nil
// (and no error) when the url is not a valid relay address or the
// per-observation score has decayed to zero or below; stale and negative
// evidence is dropped, never stored.
func (s *Scorer) Score(c context.Context, pubkey, rawURL, evidence,
	mode string, at nostr.Timestamp) (updated *model.Route, err error) {

	if !nostr.IsValidRelayURL(rawURL) {
		return nil, nil
	}
	url := nostr.NormalizeURL(rawURL)
	id := ID(pubkey, url, mode)

	obs := Weight(evidence) * (1 - float64(s.now()-at)/float64(thirtyDays))
	if obs <= 0 {
		return nil, nil
	}

	route, err := s.Routes.Get(c, id)
	if chk.E(err) {
		return nil, err
	}
	if route == nil {
		route = &model.Route{ID: id, Pubkey: pubkey, URL: url, Mode: mode}
	}

	count := route.Count + 1
	route.Score = (route.Score*float64(route.Count) + obs) / float64(count)
	route.Count = count
	route.Types = appendUnique(route.Types, evidence)
	if at > route.LastSeen {
		route.LastSeen = at
	}
	return route, nil
}

func appendUnique(types []string, t string) []string {
	for _, have := range types {
		if have == t {
			return types
		}
	}
	return append(types, t)
}
