package routes

import (
	"context"
	"encoding/hex"
	"math"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"lukechampine.com/frand"

	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/store/memory"
)

func testPubkey() string {
	return hex.EncodeToString(frand.Bytes(32))
}

func fixedScorer(now nostr.Timestamp) *Scorer {
	return &Scorer{
		Routes: memory.New().Routes(),
		Now:    func() nostr.Timestamp { return now },
	}
}

func TestScoreFreshEvidence(t *testing.T) {
	now := nostr.Now()
	s := fixedScorer(now)
	pk := testPubkey()
	rt, err := s.Score(context.Background(), pk, "wss://relay.example.com",
		RelayList, ModeWrite, now)
	if err != nil {
		t.Fatal(err)
	}
	if rt == nil {
		t.Fatal("expected a route for fresh evidence")
	}
	if math.Abs(rt.Score-1) > 1e-9 {
		t.Fatalf("fresh kind 10002 evidence should score 1, got %f", rt.Score)
	}
	if rt.Count != 1 {
		t.Fatalf("expected count 1, got %d", rt.Count)
	}
	if rt.Mode != ModeWrite {
		t.Fatalf("expected write mode, got %s", rt.Mode)
	}
}

func TestScoreDecay(t *testing.T) {
	now := nostr.Now()
	s := fixedScorer(now)
	pk := testPubkey()
	var prev float64 = 2
	// each observation is older than the last, so each scores lower
	for age := nostr.Timestamp(0); age < thirtyDays; age += thirtyDays / 4 {
		rt, err := s.Score(context.Background(), pk,
			"wss://relay.example.com", NIP05, ModeRead, now-age)
		if err != nil {
			t.Fatal(err)
		}
		obs := 1 - float64(age)/float64(thirtyDays)
		if obs >= prev {
			t.Fatal("test ages must be increasing")
		}
		if rt == nil {
			t.Fatalf("evidence aged %d should still score", age)
		}
		prev = obs
	}
	rt, err := s.Score(context.Background(), pk, "wss://relay.example.com",
		NIP05, ModeRead, now-thirtyDays)
	if err != nil {
		t.Fatal(err)
	}
	if rt != nil {
		t.Fatal("evidence aged the full window should be dropped")
	}
}

func TestScoreRunningAverage(t *testing.T) {
	now := nostr.Now()
	s := fixedScorer(now)
	pk := testPubkey()
	c := context.Background()
	url := "wss://relay.example.com"

	rt, err := s.Score(c, pk, url, NIP05, ModeRead, now)
	if err != nil {
		t.Fatal(err)
	}
	if err = s.Routes.BulkReplace(c,
		map[string]*model.Route{rt.ID: rt}); err != nil {
		t.Fatal(err)
	}
	rt, err = s.Score(c, pk, url, Announce, ModeRead, now)
	if err != nil {
		t.Fatal(err)
	}
	// mean of a 1.0 and a 0.5 observation
	if math.Abs(rt.Score-0.75) > 1e-9 {
		t.Fatalf("expected running mean 0.75, got %f", rt.Score)
	}
	if rt.Count != 2 {
		t.Fatalf("expected count 2, got %d", rt.Count)
	}
	if len(rt.Types) != 2 {
		t.Fatalf("expected both evidence types, got %v", rt.Types)
	}
	if rt.LastSeen != now {
		t.Fatalf("expected last seen %d, got %d", now, rt.LastSeen)
	}
}

func TestScoreInvalidURL(t *testing.T) {
	s := fixedScorer(nostr.Now())
	for _, url := range []string{"", "not a url", "http://plain.example.com"} {
		rt, err := s.Score(context.Background(), testPubkey(), url, NIP05,
			ModeRead, nostr.Now())
		if err != nil {
			t.Fatal(err)
		}
		if rt != nil {
			t.Fatalf("url %q should produce no route", url)
		}
	}
}

func TestScoreUnknownEvidence(t *testing.T) {
	s := fixedScorer(nostr.Now())
	rt, err := s.Score(context.Background(), testPubkey(),
		"wss://relay.example.com", "kind:7", ModeRead, nostr.Now())
	if err != nil {
		t.Fatal(err)
	}
	if rt != nil {
		t.Fatal("unknown evidence types should be dropped")
	}
}

func TestIDStable(t *testing.T) {
	pk := testPubkey()
	a := ID(pk, "wss://relay.example.com/", ModeRead)
	b := ID(pk, "wss://relay.example.com/", ModeRead)
	if a != b {
		t.Fatal("route ids must be deterministic")
	}
	if a == ID(pk, "wss://relay.example.com/", ModeWrite) {
		t.Fatal("read and write routes must have distinct ids")
	}
	if a == ID(testPubkey(), "wss://relay.example.com/", ModeRead) {
		t.Fatal("distinct pubkeys must have distinct ids")
	}
}

func TestWeights(t *testing.T) {
	ordered := []string{NIP05, RelayList, Contacts, Announce, Seen}
	for i := 1; i < len(ordered); i++ {
		if Weight(ordered[i]) > Weight(ordered[i-1]) {
			t.Fatalf("%s should not outweigh %s", ordered[i], ordered[i-1])
		}
	}
	if Weight("unknown") != 0 {
		t.Fatal("unknown evidence should weigh nothing")
	}
}
