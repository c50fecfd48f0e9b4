// Package memory is the in-process implementation of the store port, used
// by tests and as a default when no profile directory is configured.
package memory

import (
	"context"
	"encoding/json"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/store"
)

type bucket[R any] struct {
	m *xsync.MapOf[string, []byte]
}

func newBucket[R any]() *bucket[R] {
	return &bucket[R]{m: xsync.NewMapOf[[]byte]()}
}

func (b *bucket[R]) Get(_ context.Context, key string) (r *R, err error) {
	raw, ok := b.m.Load(key)
	if !ok {
		return nil, nil
	}
	r = new(R)
	err = json.Unmarshal(raw, r)
	return
}

func (b *bucket[R]) Scan(_ context.Context,
	fn func(r *R) error) (err error) {

	b.m.Range(func(_ string, raw []byte) bool {
		r := new(R)
		if err = json.Unmarshal(raw, r); err != nil {
			return false
		}
		err = fn(r)
		return err == nil
	})
	return
}

func (b *bucket[R]) BulkMerge(c context.Context,
	updates map[string]*R) (err error) {

	for key, next := range updates {
		var nb []byte
		if nb, err = json.Marshal(next); err != nil {
			return
		}
		if prev, ok := b.m.Load(key); ok {
			if nb, err = store.MergeJSON(prev, nb); err != nil {
				return
			}
		}
		b.m.Store(key, nb)
	}
	return
}

func (b *bucket[R]) BulkReplace(_ context.Context,
	updates map[string]*R) (err error) {

	for key, next := range updates {
		var nb []byte
		if nb, err = json.Marshal(next); err != nil {
			return
		}
		b.m.Store(key, nb)
	}
	return
}

// Store keeps every collection in concurrent maps.
type Store struct {
	people   *bucket[model.Person]
	rooms    *bucket[model.Room]
	messages *bucket[model.Message]
	relays   *bucket[model.Relay]
	routes   *bucket[model.Route]
}

var _ store.T = (*Store)(nil)

func New() (s *Store) {
	return &Store{
		people:   newBucket[model.Person](),
		rooms:    newBucket[model.Room](),
		messages: newBucket[model.Message](),
		relays:   newBucket[model.Relay](),
		routes:   newBucket[model.Route](),
	}
}

func (s *Store) People() store.Bucket[model.Person]    { return s.people }
func (s *Store) Rooms() store.Bucket[model.Room]       { return s.rooms }
func (s *Store) Messages() store.Bucket[model.Message] { return s.messages }
func (s *Store) Relays() store.Bucket[model.Relay]     { return s.relays }
func (s *Store) Routes() store.Bucket[model.Route]     { return s.routes }

func (s *Store) Close() (err error) { return nil }
