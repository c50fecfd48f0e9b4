package app

import (
	"context"
	"testing"

	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/routes"
	"github.com/quentintaranpino/coracle/pkg/store/memory"
)

// Routes persisted in a previous run must be usable for relay selection
// right away, before any new evidence has been ingested.
func TestNewSyncerPrimesHintsFromStore(t *testing.T) {
	c := context.Background()
	st := memory.New()
	err := st.Routes().BulkReplace(c, map[string]*model.Route{
		"r1": {
			ID: "r1", Pubkey: "pk", URL: "wss://warm.example.com",
			Mode: routes.ModeWrite, Score: 0.7,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	s := NewSyncer(c, GetDefaultConfig(), st)
	urls, err := s.Hints.PubkeyHints(c, "pk", routes.ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 1 || urls[0] != "wss://warm.example.com" {
		t.Fatalf("hint cache not primed, got %v", urls)
	}
}
