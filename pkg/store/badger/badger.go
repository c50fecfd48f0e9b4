// Package badger is the on-disk implementation of the store port. Records
// are stored as JSON documents under bucket-prefixed keys; merge writes go
// through a striped lock so concurrent read-merge-write cycles on the same
// key cannot interleave.
package badger

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/fiatjaf/generic-ristretto/z"

	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/slog"
	"github.com/quentintaranpino/coracle/pkg/store"
)

var log, chk = slog.New(os.Stderr)

const maxLocks = 50

var mergeLocks [maxLocks]sync.Mutex

func lockKey(key string) (unlock func()) {
	idx := z.MemHashString(key) % maxLocks
	mergeLocks[idx].Lock()
	return mergeLocks[idx].Unlock
}

type bucket[R any] struct {
	db     *badger.DB
	prefix string
}

func (b *bucket[R]) key(k string) []byte { return []byte(b.prefix + "/" + k) }

func (b *bucket[R]) Get(_ context.Context, key string) (r *R, err error) {
	err = b.db.View(func(txn *badger.Txn) (err error) {
		item, err := txn.Get(b.key(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) (err error) {
			r = new(R)
			return json.Unmarshal(val, r)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if chk.E(err) {
		return nil, err
	}
	return
}

func (b *bucket[R]) Scan(_ context.Context,
	fn func(r *R) error) (err error) {

	return b.db.View(func(txn *badger.Txn) (err error) {
		prefix := []byte(b.prefix + "/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r *R
			err = it.Item().Value(func(val []byte) (err error) {
				r = new(R)
				return json.Unmarshal(val, r)
			})
			if chk.E(err) {
				return
			}
			if err = fn(r); err != nil {
				return
			}
		}
		return
	})
}

func (b *bucket[R]) BulkMerge(_ context.Context,
	updates map[string]*R) (err error) {

	for key, next := range updates {
		var nb []byte
		if nb, err = json.Marshal(next); chk.E(err) {
			return
		}
		if err = b.mergeOne(key, nb); chk.E(err) {
			return
		}
	}
	return
}

func (b *bucket[R]) mergeOne(key string, nb []byte) (err error) {
	defer lockKey(b.prefix + "/" + key)()
	return b.db.Update(func(txn *badger.Txn) (err error) {
		item, err := txn.Get(b.key(key))
		switch err {
		case nil:
			var prev []byte
			if prev, err = item.ValueCopy(nil); err != nil {
				return
			}
			if nb, err = store.MergeJSON(prev, nb); err != nil {
				return
			}
		case badger.ErrKeyNotFound:
		default:
			return
		}
		return txn.Set(b.key(key), nb)
	})
}

func (b *bucket[R]) BulkReplace(_ context.Context,
	updates map[string]*R) (err error) {

	return b.db.Update(func(txn *badger.Txn) (err error) {
		for key, next := range updates {
			var nb []byte
			if nb, err = json.Marshal(next); chk.E(err) {
				return
			}
			if err = txn.Set(b.key(key), nb); chk.E(err) {
				return
			}
		}
		return
	})
}

// Store is a badger database holding every projection collection.
type Store struct {
	DB       *badger.DB
	people   *bucket[model.Person]
	rooms    *bucket[model.Room]
	messages *bucket[model.Message]
	relays   *bucket[model.Relay]
	routes   *bucket[model.Route]
}

var _ store.T = (*Store)(nil)

func Open(path string) (s *Store, err error) {
	log.I.Ln("opening projection store at", path)
	opts := badger.DefaultOptions(path)
	opts.CompactL0OnClose = true
	var db *badger.DB
	if db, err = badger.Open(opts); chk.E(err) {
		return
	}
	s = &Store{
		DB:       db,
		people:   &bucket[model.Person]{db, "people"},
		rooms:    &bucket[model.Room]{db, "rooms"},
		messages: &bucket[model.Message]{db, "messages"},
		relays:   &bucket[model.Relay]{db, "relays"},
		routes:   &bucket[model.Route]{db, "routes"},
	}
	return
}

func (s *Store) People() store.Bucket[model.Person]    { return s.people }
func (s *Store) Rooms() store.Bucket[model.Room]       { return s.rooms }
func (s *Store) Messages() store.Bucket[model.Message] { return s.messages }
func (s *Store) Relays() store.Bucket[model.Relay]     { return s.relays }
func (s *Store) Routes() store.Bucket[model.Route]     { return s.routes }

func (s *Store) Close() (err error) { return s.DB.Close() }
