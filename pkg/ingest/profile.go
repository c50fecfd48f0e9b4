package ingest

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/routes"
)

// Kind 10001 predates the pin list assignment; old clients published
// their relay list there as url/read/write tag triples.
const kindDeprecatedRelayList = 10001

// The kinds that inform the person projection.
var personKinds = []int{
	nostr.KindProfileMetadata,
	nostr.KindRecommendServer,
	nostr.KindContactList,
	nostr.KindMuteList,
	kindDeprecatedRelayList,
	nostr.KindRelayListMetadata,
}

func isPersonKind(kind int) bool {
	for _, k := range personKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (in *Ingester) processProfiles(c context.Context,
	evs []model.Event) (err error) {

	updates := map[string]*model.Person{}
	changed := map[string]bool{}

	for _, e := range evs {
		if !isPersonKind(e.Kind) {
			continue
		}
		p := updates[e.PubKey]
		if p == nil {
			if p, err = in.Store.People().Get(c, e.PubKey); chk.E(err) {
				return
			}
			if p == nil {
				p = model.NewPerson(e.PubKey)
			}
			updates[e.PubKey] = p
		}

		switch e.Kind {
		case nostr.KindProfileMetadata:
			meta, ok := parseJSONMap(e.Content)
			if !ok {
				break
			}
			if e.CreatedAt <= p.ProfileUpdatedAt {
				break
			}
			if address, _ := meta["nip05"].(string); address != "" &&
				e.CreatedAt > p.NIP05UpdatedAt {
				in.verifyAsync(c, e.PubKey, address)
				p.NIP05UpdatedAt = e.CreatedAt
			}
			if p.Profile == nil {
				p.Profile = map[string]any{}
			}
			for k, v := range meta {
				p.Profile[k] = v
			}
			p.ProfileUpdatedAt = e.CreatedAt
			changed[e.PubKey] = true

		case nostr.KindRecommendServer:
			if e.CreatedAt <= p.RelaysUpdatedAt {
				break
			}
			p.Relays = append(p.Relays, model.RelayEntry{URL: e.Content})
			p.RelaysUpdatedAt = e.CreatedAt
			changed[e.PubKey] = true

		case nostr.KindContactList:
			// petnames have no newer-guard, the last processed event wins
			p.Petnames = e.Tags
			changed[e.PubKey] = true
			if e.CreatedAt <= p.RelaysUpdatedAt {
				break
			}
			conds, ok := relayConditions(e.Content)
			if !ok {
				break
			}
			var entries []model.RelayEntry
			for url, cond := range conds {
				if !nostr.IsValidRelayURL(url) {
					continue
				}
				entries = append(entries, model.RelayEntry{
					URL:   url,
					Read:  !disabled(cond["read"]),
					Write: !disabled(cond["write"]),
				})
			}
			p.Relays = entries
			p.RelaysUpdatedAt = e.CreatedAt

		case nostr.KindMuteList:
			p.Mutes = e.Tags
			changed[e.PubKey] = true

		case kindDeprecatedRelayList:
			if e.CreatedAt <= p.RelaysUpdatedAt {
				break
			}
			var entries []model.RelayEntry
			for _, t := range e.Tags {
				if len(t) == 0 {
					continue
				}
				entries = append(entries, model.RelayEntry{
					URL:   t[0],
					Read:  len(t) < 2 || t[1] != "!",
					Write: len(t) < 3 || t[2] != "!",
				})
			}
			p.Relays = entries
			p.RelaysUpdatedAt = e.CreatedAt
			changed[e.PubKey] = true

		case nostr.KindRelayListMetadata:
			if e.CreatedAt <= p.RelaysUpdatedAt {
				break
			}
			var entries []model.RelayEntry
			for _, t := range e.Tags {
				if len(t) < 2 || t[0] != "r" {
					continue
				}
				entry := model.RelayEntry{URL: t[1]}
				if len(t) < 3 || t[2] == "" {
					entry.Read, entry.Write = true, true
				} else {
					entry.Read = t[2] == "read"
					entry.Write = t[2] == "write"
				}
				entries = append(entries, entry)
			}
			p.Relays = entries
			p.RelaysUpdatedAt = e.CreatedAt
			changed[e.PubKey] = true

		default:
			log.I.F("received unsupported event kind %d", e.Kind)
		}
		if changed[e.PubKey] {
			p.UpdatedAt = in.now()
		}
	}

	for pubkey := range updates {
		if !changed[pubkey] {
			delete(updates, pubkey)
		}
	}
	if len(updates) == 0 {
		return nil
	}
	if err = in.Store.People().BulkMerge(c, updates); chk.E(err) {
		return
	}
	for _, p := range updates {
		for _, hook := range in.OnPersonStored {
			hook(p)
		}
	}
	return
}

// verifyAsync confirms an identity proof in the background. Success
// patches verified_as and appends nip05-weighted route evidence; any
// failure just means not verified.
func (in *Ingester) verifyAsync(c context.Context, pubkey, address string) {
	if in.Verify == nil {
		return
	}
	go func() {
		ok, relayHints, err := in.Verify.Verify(c, pubkey, address)
		if err != nil || !ok {
			log.D.F("could not verify %s as %s", pubkey, address)
			return
		}
		patch := map[string]*model.Person{
			pubkey: {Pubkey: pubkey, VerifiedAs: address},
		}
		if err = in.Store.People().BulkMerge(c, patch); chk.E(err) {
			return
		}
		for _, hook := range in.OnPersonStored {
			hook(patch[pubkey])
		}

		routeUpdates := map[string]*model.Route{}
		relayUpdates := map[string]*model.Relay{}
		at := in.now()
		for _, url := range relayHints {
			for _, mode := range []string{routes.ModeRead, routes.ModeWrite} {
				rt, err := in.Scorer.Score(c, pubkey, url, routes.NIP05,
					mode, at)
				if chk.E(err) || rt == nil {
					continue
				}
				routeUpdates[rt.ID] = rt
				relayUpdates[rt.URL] = &model.Relay{URL: rt.URL}
			}
		}
		in.storeRoutes(c, routeUpdates, relayUpdates)
	}()
}
