package query

import (
	ristretto "github.com/fiatjaf/generic-ristretto"
	"github.com/nbd-wtf/go-nostr"
)

// sigCache remembers verification outcomes keyed by id and signature.
// Failures are cached as negative results so a bad event is never
// re-verified.
var sigCache *ristretto.Cache[string, bool]

func init() {
	var err error
	sigCache, err = ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: 100000,
		MaxCost:     10000,
		BufferItems: 64,
	})
	if chk.F(err) {
		panic(err)
	}
}

// HasValidSignature checks the event signature, consulting the cache
// first. A failed check never returns an error, it is simply not valid.
func HasValidSignature(ev *nostr.Event) (valid bool) {
	key := ev.GetID() + ":" + ev.Sig
	if cached, ok := sigCache.Get(key); ok {
		return cached
	}
	valid, err := ev.CheckSignature()
	if err != nil {
		valid = false
	}
	sigCache.Set(key, valid, 1)
	return
}
