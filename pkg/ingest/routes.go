package ingest

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
	"lukechampine.com/frand"

	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/routes"
)

// routeSampleSize bounds the scoring work per batch. Routes converge on
// a running average so skipped observations only slow convergence.
const routeSampleSize = 10

// hint is one piece of relay evidence extracted from an event.
type hint struct {
	url      string
	evidence string
	read     bool
	write    bool
}

func (in *Ingester) processRoutes(c context.Context,
	evs []model.Event) (err error) {

	sample := make([]model.Event, len(evs))
	copy(sample, evs)
	frand.Shuffle(len(sample), func(i, j int) {
		sample[i], sample[j] = sample[j], sample[i]
	})
	if len(sample) > routeSampleSize {
		sample = sample[:routeSampleSize]
	}

	routeUpdates := map[string]*model.Route{}
	relayUpdates := map[string]*model.Relay{}

	for _, e := range sample {
		for _, h := range routeHints(e) {
			modes := map[string]bool{
				routes.ModeRead:  h.read,
				routes.ModeWrite: h.write,
			}
			for mode, enabled := range modes {
				if !enabled {
					continue
				}
				var rt *model.Route
				rt, err = in.Scorer.Score(c, e.PubKey, h.url, h.evidence,
					mode, e.CreatedAt)
				if chk.E(err) {
					return
				}
				if rt == nil {
					continue
				}
				routeUpdates[rt.ID] = rt
				relayUpdates[rt.URL] = &model.Relay{URL: rt.URL}
			}
		}
	}

	return in.storeRoutes(c, routeUpdates, relayUpdates)
}

// routeHints extracts relay evidence from one event. Profile events
// yield weak hints for the relays they were seen on, the various relay
// list kinds yield their explicit entries.
func routeHints(e model.Event) (hints []hint) {
	switch e.Kind {
	case nostr.KindProfileMetadata:
		for _, url := range e.SeenOn {
			hints = append(hints, hint{
				url: url, evidence: routes.Seen, write: true,
			})
		}
	case nostr.KindRecommendServer:
		hints = append(hints, hint{
			url: e.Content, evidence: routes.Announce, read: true, write: true,
		})
	case nostr.KindContactList:
		conds, ok := relayConditions(e.Content)
		if !ok {
			break
		}
		for url, cond := range conds {
			hints = append(hints, hint{
				url:      url,
				evidence: routes.Contacts,
				read:     !disabled(cond["read"]),
				write:    !disabled(cond["write"]),
			})
		}
	case kindDeprecatedRelayList:
		for _, t := range e.Tags {
			if len(t) == 0 {
				continue
			}
			hints = append(hints, hint{
				url:      t[0],
				evidence: routes.RelayList,
				read:     len(t) < 2 || t[1] != "!",
				write:    len(t) < 3 || t[2] != "!",
			})
		}
	case nostr.KindRelayListMetadata:
		for _, t := range e.Tags {
			if len(t) < 2 || t[0] != "r" {
				continue
			}
			h := hint{url: t[1], evidence: routes.RelayList}
			if len(t) < 3 || t[2] == "" {
				h.read, h.write = true, true
			} else {
				h.read = t[2] == "read"
				h.write = t[2] == "write"
			}
			hints = append(hints, h)
		}
	}
	return
}

func (in *Ingester) storeRoutes(c context.Context,
	routeUpdates map[string]*model.Route,
	relayUpdates map[string]*model.Relay) (err error) {

	if len(routeUpdates) == 0 {
		return nil
	}
	if err = in.Store.Routes().BulkReplace(c, routeUpdates); chk.E(err) {
		return
	}
	if err = in.Store.Relays().BulkMerge(c, relayUpdates); chk.E(err) {
		return
	}
	for _, rt := range routeUpdates {
		for _, hook := range in.OnRouteStored {
			hook(rt)
		}
	}
	return
}
