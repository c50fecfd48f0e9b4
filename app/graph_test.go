package app

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/routes"
	"github.com/quentintaranpino/coracle/pkg/store/memory"
)

func storePerson(t *testing.T, st *memory.Store, pubkey string,
	follows ...string) {

	t.Helper()
	p := model.NewPerson(pubkey)
	for _, f := range follows {
		p.Petnames = append(p.Petnames, nostr.Tag{"p", f})
	}
	err := st.People().BulkReplace(context.Background(),
		map[string]*model.Person{pubkey: p})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSocialGraph(t *testing.T) {
	c := context.Background()
	st := memory.New()
	storePerson(t, st, "self", "aa", "bb")
	storePerson(t, st, "aa", "bb", "cc", "self")
	storePerson(t, st, "bb", "dd")
	g := &SocialGraph{People: st.People()}

	follows, err := g.Follows(c, "self")
	if err != nil {
		t.Fatal(err)
	}
	if len(follows) != 2 {
		t.Fatalf("unexpected follows %v", follows)
	}

	network, err := g.Network(c, "self")
	if err != nil {
		t.Fatal(err)
	}
	// cc and dd are follow-of-follows; aa, bb and self are excluded
	want := map[string]bool{"cc": true, "dd": true}
	if len(network) != len(want) {
		t.Fatalf("unexpected network %v", network)
	}
	for _, pk := range network {
		if !want[pk] {
			t.Fatalf("unexpected network member %s", pk)
		}
	}
}

func TestSocialGraphUnknownPubkey(t *testing.T) {
	g := &SocialGraph{People: memory.New().People()}
	follows, err := g.Follows(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if follows != nil {
		t.Fatal("unknown pubkeys have no follows")
	}
}

func TestRouteHintsRanking(t *testing.T) {
	h := NewRouteHints()
	h.Observe(&model.Route{
		ID: "1", Pubkey: "pk", URL: "wss://weak.example.com",
		Mode: routes.ModeWrite, Score: 0.2,
	})
	h.Observe(&model.Route{
		ID: "2", Pubkey: "pk", URL: "wss://strong.example.com",
		Mode: routes.ModeWrite, Score: 0.9,
	})
	h.Observe(&model.Route{
		ID: "3", Pubkey: "pk", URL: "wss://reads.example.com",
		Mode: routes.ModeRead, Score: 0.5,
	})

	urls, err := h.PubkeyHints(context.Background(), "pk", routes.ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 2 || urls[0] != "wss://strong.example.com" {
		t.Fatalf("unexpected ranking %v", urls)
	}

	// re-observing a route replaces its previous entry
	h.Observe(&model.Route{
		ID: "1", Pubkey: "pk", URL: "wss://weak.example.com",
		Mode: routes.ModeWrite, Score: 0.95,
	})
	urls, err = h.PubkeyHints(context.Background(), "pk", routes.ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 2 || urls[0] != "wss://weak.example.com" {
		t.Fatalf("unexpected ranking after rescore %v", urls)
	}
}
