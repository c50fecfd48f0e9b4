// Package ingest classifies raw protocol events into idempotent updates
// to the local projections. A batch is fanned out to four independent
// projections (profile, room, message, route); every mutation is
// timestamp guarded, so projections are safe to run out of arrival order
// and to re-run on the same events.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/routes"
	"github.com/quentintaranpino/coracle/pkg/slog"
	"github.com/quentintaranpino/coracle/pkg/store"
)

var log, chk = slog.New(os.Stderr)

// Verifier confirms ownership of an identity proof and optionally
// returns relay hints associated with the identity. Failures are treated
// as "not verified", never retried and never propagated.
type Verifier interface {
	Verify(c context.Context, pubkey, address string) (ok bool,
		relays []string, err error)
}

// Ingester applies event batches to the projection store. The hook
// slices publish change notifications so callers can maintain derived
// views without the engine holding any global state.
type Ingester struct {
	Store  store.T
	Scorer *routes.Scorer
	// Verify may be nil, in which case identity proofs are recorded but
	// never confirmed.
	Verify Verifier
	// Now is swappable for tests; nil means wall clock.
	Now func() nostr.Timestamp

	OnPersonStored  []func(p *model.Person)
	OnRoomStored    []func(r *model.Room)
	OnMessageStored []func(m *model.Message)
	OnRouteStored   []func(rt *model.Route)
}

func New(st store.T) (in *Ingester) {
	return &Ingester{
		Store:  st,
		Scorer: &routes.Scorer{Routes: st.Routes()},
	}
}

func (in *Ingester) now() nostr.Timestamp {
	if in.Now != nil {
		return in.Now()
	}
	return nostr.Now()
}

// Process applies one batch. The four projections run concurrently; each
// accumulates its updates in memory and flushes one bulk write at the
// end. A failing projection never blocks the others.
func (in *Ingester) Process(c context.Context, evs []model.Event) (err error) {
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i, proj := range []func(context.Context, []model.Event) error{
		in.processProfiles,
		in.processRooms,
		in.processMessages,
		in.processRoutes,
	} {
		wg.Add(1)
		go func(i int, proj func(context.Context, []model.Event) error) {
			defer wg.Done()
			errs[i] = proj(c, evs)
		}(i, proj)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// parseJSONMap is the fallible content parse: unparsable content reports
// !ok and the caller skips the update, parse errors are never thrown.
func parseJSONMap(content string) (m map[string]any, ok bool) {
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return nil, false
	}
	return m, true
}

// relayConditions parses a contact list's content, a map from relay url
// to read/write conditions where boolean false or the literal marker "!"
// means disabled.
func relayConditions(content string) (conds map[string]map[string]any,
	ok bool) {

	if err := json.Unmarshal([]byte(content), &conds); err != nil {
		return nil, false
	}
	return conds, true
}

func disabled(v any) bool {
	switch t := v.(type) {
	case bool:
		return !t
	case string:
		return t == "!"
	}
	return false
}
