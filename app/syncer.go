package app

import (
	"context"
	"errors"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/quentintaranpino/coracle/pkg/cursor"
	"github.com/quentintaranpino/coracle/pkg/ingest"
	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/query"
	"github.com/quentintaranpino/coracle/pkg/store"
)

// Syncer ties the transport, the ingester and the query compiler
// together into one background sync engine for a single user.
type Syncer struct {
	Cfg      *Config
	Store    store.T
	Ingester *ingest.Ingester
	Compiler *query.Compiler
	Hints    *RouteHints

	pool *nostr.SimplePool
	// combined filters from the last Feed call, read only by Run to
	// size its poll interval
	lastFilters nostr.Filters
}

func NewSyncer(c context.Context, cfg *Config, st store.T) (s *Syncer) {
	hints := NewRouteHints()
	var rts []*model.Route
	if err := st.Routes().Scan(c, func(rt *model.Route) error {
		rts = append(rts, rt)
		return nil
	}); chk.E(err) {
		// start with a cold hint cache; routes refill as evidence arrives
	}
	hints.Prime(rts)
	in := ingest.New(st)
	in.Verify = NIP05Verifier{}
	in.OnRouteStored = append(in.OnRouteStored, hints.Observe)
	return &Syncer{
		Cfg:      cfg,
		Store:    st,
		Ingester: in,
		Compiler: &query.Compiler{
			Graph:          &SocialGraph{People: st.People()},
			Hints:          hints,
			Self:           cfg.Pubkey,
			DefaultAuthors: cfg.DefaultAuthors,
		},
		Hints: hints,
		pool:  nostr.NewSimplePool(c),
	}
}

// Subscribe opens one bounded subscription per relay in the request and
// pumps verified events into the callback, tagged with the relay they
// arrived from. Events with bad signatures or outside the requested
// filters are dropped here so nothing downstream has to re-check.
func (s *Syncer) Subscribe(c context.Context,
	opts cursor.SubscribeOpts) (err error) {

	var started int
	for _, url := range opts.Relays {
		rl, e := s.pool.EnsureRelay(url)
		if e != nil {
			log.D.F("cannot reach %s: %v", url, e)
			err = e
			continue
		}
		sub, e := rl.Subscribe(c, opts.Filters)
		if e != nil {
			log.D.F("subscribe to %s failed: %v", url, e)
			err = e
			continue
		}
		started++
		go s.pump(c, url, sub, opts)
	}
	if started > 0 {
		return nil
	}
	if err == nil {
		err = errors.New("no relays to subscribe to")
	}
	return
}

func (s *Syncer) pump(c context.Context, url string, sub *nostr.Subscription,
	opts cursor.SubscribeOpts) {

	defer sub.Unsub()
	for {
		select {
		case ev, more := <-sub.Events:
			if !more {
				return
			}
			if ev == nil {
				continue
			}
			if !query.HasValidSignature(ev) {
				log.D.F("dropping event %s from %s: bad signature",
					ev.ID, url)
				continue
			}
			// relays are not trusted to filter correctly
			if !query.MatchAny(opts.Filters, ev) {
				log.D.F("dropping event %s from %s: outside request",
					ev.ID, url)
				continue
			}
			if opts.OnEvent != nil {
				opts.OnEvent(model.Event{Event: ev, SeenOn: []string{url}})
			}
		case <-sub.EndOfStoredEvents:
			if opts.OnEose != nil {
				opts.OnEose()
			}
			if opts.AutoClose {
				return
			}
		case <-c.Done():
			return
		}
	}
}

// Feed compiles a set of intents into per-relay cursors over the
// combined filters. Relay selection uses scored route hints, falling
// back to the configured relays when no routes are known yet.
func (s *Syncer) Feed(c context.Context,
	intents []query.Intent) (m *cursor.MultiCursor, err error) {

	var filters []nostr.Filter
	for _, in := range intents {
		var f nostr.Filter
		if f, err = s.Compiler.Compile(c, in); chk.E(err) {
			return
		}
		filters = append(filters, f)
	}
	filters = query.Combine(filters)
	s.lastFilters = filters

	var urls []string
	if urls, err = s.Compiler.RelaysFor(c, filters); chk.E(err) {
		return
	}
	if len(urls) == 0 {
		urls = s.Cfg.Relays
	}

	cursors := make([]*cursor.Cursor, 0, len(urls))
	for _, url := range urls {
		cursors = append(cursors, cursor.New(s, url, filters, nil))
	}
	return cursor.NewMulti(cursors), nil
}

// Run keeps the social graph warm: it pages through profile history for
// the follows scope, then idles on an interval derived from how
// specific the compiled filters are before polling again.
func (s *Syncer) Run(c context.Context) (err error) {
	intents := []query.Intent{{
		Filter: nostr.Filter{
			Kinds: []int{
				nostr.KindProfileMetadata,
				nostr.KindRecommendServer,
				nostr.KindContactList,
				nostr.KindMuteList,
				10001, // deprecated relay list, still published by old clients
				nostr.KindRelayListMetadata,
			},
		},
		Scope: query.ScopeFollows,
	}, {
		Filter: nostr.Filter{
			Kinds: []int{
				nostr.KindChannelCreation,
				nostr.KindChannelMetadata,
				nostr.KindEncryptedDirectMessage,
			},
		},
		Scope: query.ScopeGlobal,
	}}

	for {
		var m *cursor.MultiCursor
		if m, err = s.Feed(c, intents); err != nil {
			return
		}
		m.Load(c, s.Cfg.Limit)
		s.drain(c, m)

		delta := s.Cfg.PollFrequency
		if delta <= 0 {
			delta = query.Delta(s.lastFilters)
		}
		select {
		case <-time.After(delta):
		case <-c.Done():
			return c.Err()
		}
	}
}

// drain takes pages off the multicursor until it stops producing,
// handing each deduplicated batch to the ingester.
func (s *Syncer) drain(c context.Context, m *cursor.MultiCursor) {
	for {
		events, loading := m.Take(c, s.Cfg.Limit)
		if len(events) > 0 {
			if err := s.Ingester.Process(c, events); chk.E(err) {
				return
			}
		}
		if len(events) == 0 && len(loading) == 0 {
			return
		}
		if len(events) == 0 {
			select {
			case <-time.After(200 * time.Millisecond):
			case <-c.Done():
				return
			}
		}
	}
}
