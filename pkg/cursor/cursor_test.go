package cursor

import (
	"context"
	"fmt"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/quentintaranpino/coracle/pkg/model"
)

// fakeRelays serves canned events per relay url, synchronously, honoring
// the until and limit of each request. It records every request so tests
// can inspect pagination.
type fakeRelays struct {
	events   map[string][]*nostr.Event
	requests []nostr.Filters
}

func (f *fakeRelays) Subscribe(_ context.Context,
	opts SubscribeOpts) (err error) {

	f.requests = append(f.requests, opts.Filters)
	for _, url := range opts.Relays {
		sent := 0
		for _, ev := range f.events[url] {
			if sent >= opts.Filters[0].Limit {
				break
			}
			if !opts.Filters[0].Matches(ev) {
				continue
			}
			sent++
			opts.OnEvent(model.Event{Event: ev, SeenOn: []string{url}})
		}
	}
	if opts.OnEose != nil {
		opts.OnEose()
	}
	return nil
}

// hanging never delivers anything and never signals eose.
type hanging struct{}

func (hanging) Subscribe(context.Context, SubscribeOpts) error { return nil }

func eventAt(id string, at nostr.Timestamp) *nostr.Event {
	return &nostr.Event{ID: id, Kind: 1, CreatedAt: at}
}

func descending(n int, from nostr.Timestamp) (evs []*nostr.Event) {
	for i := 0; i < n; i++ {
		at := from - nostr.Timestamp(i)
		evs = append(evs, eventAt(fmt.Sprintf("ev%d", at), at))
	}
	return
}

func TestCursorPagesBackward(t *testing.T) {
	now := nostr.Now()
	f := &fakeRelays{events: map[string][]*nostr.Event{
		"wss://a.example.com": descending(10, now-10),
	}}
	c := New(f, "wss://a.example.com", nostr.Filters{{Kinds: []int{1}}}, nil)

	if !c.Load(context.Background(), 5) {
		t.Fatal("first load should start")
	}
	if c.Count() != 5 {
		t.Fatalf("expected 5 buffered, got %d", c.Count())
	}
	got := c.Take(5)
	if len(got) != 5 {
		t.Fatalf("expected 5 taken, got %d", len(got))
	}
	// fetch order from the fake is newest first
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt > got[i-1].CreatedAt {
			t.Fatal("take order should follow fetch order")
		}
	}

	if !c.Load(context.Background(), 5) {
		t.Fatal("second load should start")
	}
	if len(f.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(f.requests))
	}
	first := *f.requests[0][0].Until
	second := *f.requests[1][0].Until
	if second > first {
		t.Fatalf("until watermark went forward: %d then %d", first, second)
	}
}

func TestCursorLoadGuards(t *testing.T) {
	c := New(hanging{}, "wss://a.example.com",
		nostr.Filters{{Kinds: []int{1}}}, nil)
	if !c.Load(context.Background(), 5) {
		t.Fatal("first load should start")
	}
	// no eose arrived, the request is still in flight
	if c.Load(context.Background(), 5) {
		t.Fatal("load while loading should be a no-op")
	}
}

func TestCursorStopsOnEmptyPage(t *testing.T) {
	f := &fakeRelays{events: map[string][]*nostr.Event{}}
	c := New(f, "wss://a.example.com", nostr.Filters{{Kinds: []int{1}}}, nil)
	if !c.Load(context.Background(), 5) {
		t.Fatal("first load should start")
	}
	if c.Load(context.Background(), 5) {
		t.Fatal("an exhausted cursor should not load again")
	}
	if len(f.requests) != 1 {
		t.Fatalf("expected a single request, got %d", len(f.requests))
	}
}

func TestCursorStopsAtHistoryEnd(t *testing.T) {
	now := nostr.Now()
	f := &fakeRelays{events: map[string][]*nostr.Event{
		"wss://a.example.com": {eventAt("only", now-10)},
	}}
	c := New(f, "wss://a.example.com", nostr.Filters{{Kinds: []int{1}}}, nil)
	if !c.Load(context.Background(), 5) {
		t.Fatal("first load should start")
	}
	if got := c.Take(5); len(got) != 1 {
		t.Fatalf("expected the single event, got %d", len(got))
	}
	// the until bound is inclusive, so this page only gets the oldest
	// event back again and the watermark cannot move
	if !c.Load(context.Background(), 5) {
		t.Fatal("boundary page should still issue")
	}
	if c.Load(context.Background(), 5) {
		t.Fatal("cursor should stop after a page with no backward progress")
	}
	if len(f.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(f.requests))
	}
}

func TestMultiCursorOrdersAcrossRelays(t *testing.T) {
	now := nostr.Now()
	f := &fakeRelays{events: map[string][]*nostr.Event{
		"wss://a.example.com": {
			eventAt("a1", now-10), eventAt("a2", now-30),
		},
		"wss://b.example.com": {
			eventAt("b1", now-20), eventAt("b2", now-40),
		},
	}}
	m := NewMulti([]*Cursor{
		New(f, "wss://a.example.com", nostr.Filters{{Kinds: []int{1}}}, nil),
		New(f, "wss://b.example.com", nostr.Filters{{Kinds: []int{1}}}, nil),
	})
	m.Load(context.Background(), 10)
	events, _ := m.Take(context.Background(), 10)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	want := []string{"a1", "b1", "a2", "b2"}
	for i, ev := range events {
		if ev.ID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], ev.ID)
		}
	}
}

func TestMultiCursorDeduplicates(t *testing.T) {
	now := nostr.Now()
	shared := eventAt("shared", now-10)
	f := &fakeRelays{events: map[string][]*nostr.Event{
		"wss://a.example.com": {shared, eventAt("onlya", now-20)},
		"wss://b.example.com": {shared},
	}}
	m := NewMulti([]*Cursor{
		New(f, "wss://a.example.com", nostr.Filters{{Kinds: []int{1}}}, nil),
		New(f, "wss://b.example.com", nostr.Filters{{Kinds: []int{1}}}, nil),
	})
	m.Load(context.Background(), 10)
	events, _ := m.Take(context.Background(), 10)

	emitted := map[string]int{}
	for _, ev := range events {
		emitted[ev.ID]++
	}
	if emitted["shared"] != 1 {
		t.Fatalf("shared event emitted %d times", emitted["shared"])
	}
	if emitted["onlya"] != 1 {
		t.Fatal("single-relay event missing")
	}

	seen := m.SeenOn("shared")
	if len(seen) != 2 {
		t.Fatalf("expected both origins recorded, got %v", seen)
	}
	if seen := m.SeenOn("onlya"); len(seen) != 1 ||
		seen[0] != "wss://a.example.com" {
		t.Fatalf("unexpected origins %v", seen)
	}
}

func TestMultiCursorNeverReEmits(t *testing.T) {
	now := nostr.Now()
	shared := eventAt("shared", now-10)
	f := &fakeRelays{events: map[string][]*nostr.Event{
		"wss://a.example.com": {shared},
		"wss://b.example.com": {shared},
	}}
	m := NewMulti([]*Cursor{
		New(f, "wss://a.example.com", nostr.Filters{{Kinds: []int{1}}}, nil),
		New(f, "wss://b.example.com", nostr.Filters{{Kinds: []int{1}}}, nil),
	})
	m.Load(context.Background(), 1)
	var total int
	for i := 0; i < 5; i++ {
		events, _ := m.Take(context.Background(), 1)
		total += len(events)
	}
	if total != 1 {
		t.Fatalf("duplicate id crossed the stream, %d emissions", total)
	}
}

// Draining a relay whose history has ended must reach the state where a
// Take returns no events and no cursor is still loading, with a bounded
// number of requests on the wire.
func TestMultiCursorDrainTerminates(t *testing.T) {
	now := nostr.Now()
	f := &fakeRelays{events: map[string][]*nostr.Event{
		"wss://a.example.com": {eventAt("only", now-10)},
	}}
	m := NewMulti([]*Cursor{
		New(f, "wss://a.example.com", nostr.Filters{{Kinds: []int{1}}}, nil),
	})
	m.Load(context.Background(), 5)
	var emitted int
	for i := 0; ; i++ {
		events, loading := m.Take(context.Background(), 5)
		emitted += len(events)
		if len(events) == 0 && len(loading) == 0 {
			break
		}
		if i > 10 {
			t.Fatalf("drain did not settle after %d requests",
				len(f.requests))
		}
	}
	if emitted != 1 {
		t.Fatalf("expected 1 emission, got %d", emitted)
	}
	if len(f.requests) > 3 {
		t.Fatalf("exhausted relay re-queried %d times", len(f.requests))
	}
}
