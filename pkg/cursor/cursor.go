// Package cursor paginates backward through relay history. A Cursor
// fetches one relay behind a shrinking time watermark; a MultiCursor
// fans in several cursors, draining whichever has the most recent event
// buffered while deduplicating by event id across relays.
package cursor

import (
	"context"
	"os"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v2"

	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

// SubscribeOpts describes one bounded request to the transport.
type SubscribeOpts struct {
	Relays    []string
	Filters   nostr.Filters
	AutoClose bool
	OnEvent   func(ev model.Event)
	OnEose    func()
}

// Subscriber opens a subscription that delivers zero or more events and
// then signals end of stored events. Bounded subscriptions are
// self-closing; no cancel operation is exposed.
type Subscriber interface {
	Subscribe(c context.Context, opts SubscribeOpts) (err error)
}

// Cursor pages backward through one relay's history. Events are buffered
// in fetch order; the until watermark only ever moves backward. Because
// the transport delivers events on its own goroutines, buffer and
// watermark access is mutex guarded.
type Cursor struct {
	Relay   string
	Filters nostr.Filters

	sub     Subscriber
	onEvent func(ev model.Event)

	mx      sync.Mutex
	until   nostr.Timestamp
	buffer  []model.Event
	loading bool
	done    bool
}

// New starts a cursor at the present moment. onEvent, when not nil, is
// invoked for every delivered event in addition to buffering.
func New(sub Subscriber, relay string, filters nostr.Filters,
	onEvent func(ev model.Event)) (c *Cursor) {

	return &Cursor{
		Relay:   relay,
		Filters: filters,
		sub:     sub,
		onEvent: onEvent,
		until:   nostr.Now(),
	}
}

// Load requests enough events older than the watermark to fill the buffer
// to n. It is a no-op while a request is in flight, the buffer already
// holds n events, or a previous page made no backward progress. Reports
// whether a request was issued.
func (c *Cursor) Load(ctx context.Context, n int) (started bool) {
	c.mx.Lock()
	limit := n - len(c.buffer)
	if c.loading || c.done || limit <= 0 {
		c.mx.Unlock()
		return false
	}
	until := c.until
	c.loading = true
	c.mx.Unlock()

	filters := make(nostr.Filters, len(c.Filters))
	for i, f := range c.Filters {
		u := until
		f.Until = &u
		f.Limit = limit
		filters[i] = f
	}

	err := c.sub.Subscribe(ctx, SubscribeOpts{
		Relays:    []string{c.Relay},
		Filters:   filters,
		AutoClose: true,
		OnEvent: func(ev model.Event) {
			c.mx.Lock()
			if ev.CreatedAt < c.until {
				c.until = ev.CreatedAt
			}
			c.buffer = append(c.buffer, ev)
			cb := c.onEvent
			c.mx.Unlock()
			if cb != nil {
				cb(ev)
			}
		},
		OnEose: func() {
			c.mx.Lock()
			// the until bound is inclusive, so an exhausted relay keeps
			// sending its oldest event back. A page that fails to move
			// the watermark means there is nothing older to fetch.
			c.done = c.until >= until
			c.loading = false
			c.mx.Unlock()
		},
	})
	if chk.E(err) {
		c.mx.Lock()
		c.loading = false
		c.mx.Unlock()
		return false
	}
	return true
}

// Take removes and returns up to n events in fetch order.
func (c *Cursor) Take(n int) (events []model.Event) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if n > len(c.buffer) {
		n = len(c.buffer)
	}
	events = append(events, c.buffer[:n]...)
	c.buffer = c.buffer[n:]
	return
}

// Count returns the number of buffered events.
func (c *Cursor) Count() (n int) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return len(c.buffer)
}

// Peek returns the oldest-fetched buffered event without removing it.
func (c *Cursor) Peek() (ev model.Event, ok bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if len(c.buffer) == 0 {
		return
	}
	return c.buffer[0], true
}

// Pop removes and returns the oldest-fetched buffered event.
func (c *Cursor) Pop() (ev model.Event, ok bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if len(c.buffer) == 0 {
		return
	}
	ev, ok = c.buffer[0], true
	c.buffer = c.buffer[1:]
	return
}

// MultiCursor merges N cursors into one deduplicated stream, tracking on
// which relays every event id has been confirmed seen.
type MultiCursor struct {
	cursors []*Cursor
	seenOn  *xsync.MapOf[string, []string]
}

func NewMulti(cursors []*Cursor) (m *MultiCursor) {
	return &MultiCursor{
		cursors: cursors,
		seenOn:  xsync.NewMapOf[[]string](),
	}
}

// Load prefetches on every cursor, returning the cursors that actually
// started a request.
func (m *MultiCursor) Load(ctx context.Context, n int) (loading []*Cursor) {
	for _, c := range m.cursors {
		if c.Load(ctx, n) {
			loading = append(loading, c)
		}
	}
	return
}

// Count sums the buffered events across cursors.
func (m *MultiCursor) Count() (n int) {
	for _, c := range m.cursors {
		n += c.Count()
	}
	return
}

// SeenOn returns the relays an emitted event id has been confirmed on.
func (m *MultiCursor) SeenOn(id string) (relays []string) {
	relays, _ = m.seenOn.Load(id)
	return
}

// Take drains up to n events, always popping from the cursor whose front
// event is most recent so the batch is best-effort descending in time.
// An id seen before is not emitted again; its origin list grows instead.
// Afterward every cursor prefetches the next page; the cursors that
// started loading are returned with the batch.
func (m *MultiCursor) Take(ctx context.Context, n int) (events []model.Event,
	loading []*Cursor) {

	for len(events) < n {
		var best *Cursor
		var bestAt nostr.Timestamp
		for _, c := range m.cursors {
			ev, ok := c.Peek()
			if !ok {
				continue
			}
			if best == nil || ev.CreatedAt > bestAt {
				best = c
				bestAt = ev.CreatedAt
			}
		}
		if best == nil {
			break
		}
		ev, _ := best.Pop()
		if origins, ok := m.seenOn.Load(ev.ID); ok {
			m.seenOn.Store(ev.ID, mergeOrigins(origins, ev.SeenOn))
			continue
		}
		m.seenOn.Store(ev.ID, ev.SeenOn)
		events = append(events, ev)
	}

	loading = m.Load(ctx, n)
	return
}

func mergeOrigins(have, add []string) []string {
	for _, url := range add {
		found := false
		for _, h := range have {
			if h == url {
				found = true
				break
			}
		}
		if !found {
			have = append(have, url)
		}
	}
	return have
}
