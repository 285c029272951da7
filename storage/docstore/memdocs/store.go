package memdocs

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/live"
)

var errClosed = errors.New("memdocs: store closed")

type (
	// DB is an in-memory document store, the default backend in development and tests.
	DB struct {
		sync.RWMutex
		collections map[string]map[string]map[string]interface{} // {collection: {id: fields}}
		subs        map[*subscription]struct{}
		closed      bool
	}

	subscription struct {
		collection string
		feed       *live.Feed
	}
)

var _ live.Store = (*DB)(nil) // interface compliance check

func Open() *DB {
	return &DB{
		collections: make(map[string]map[string]map[string]interface{}),
		subs:        make(map[*subscription]struct{}),
	}
}

func (db *DB) Get(_ context.Context, ref live.Ref) (*live.Record, error) {
	db.RLock()
	defer db.RUnlock()
	if db.closed {
		return nil, errClosed
	}

	fields, ok := db.collections[ref.Collection][ref.ID]
	if !ok {
		return nil, core.ErrNotFound
	}
	// callers never share state with the store
	rec := live.NewRecord(ref.ID, fields).Clone()
	return &rec, nil
}

func (db *DB) Find(_ context.Context, q live.Query) ([]live.Record, error) {
	db.RLock()
	defer db.RUnlock()
	if db.closed {
		return nil, errClosed
	}

	docs := db.collections[q.Collection]
	records := make([]live.Record, 0, len(docs))
	for id, fields := range docs {
		records = append(records, live.NewRecord(id, fields))
	}
	records = live.Apply(records, q)
	for i := range records {
		records[i] = records[i].Clone()
	}
	return records, nil
}

func (db *DB) Set(_ context.Context, ref live.Ref, fields map[string]interface{}) error {
	db.Lock()
	if db.closed {
		db.Unlock()
		return errClosed
	}
	docs, ok := db.collections[ref.Collection]
	if !ok {
		docs = make(map[string]map[string]interface{})
		db.collections[ref.Collection] = docs
	}
	docs[ref.ID] = live.NewRecord(ref.ID, fields).Clone().Fields
	feeds := db.feedsLocked(ref.Collection)
	db.Unlock()

	kick(feeds)
	return nil
}

func (db *DB) Add(ctx context.Context, collection string, fields map[string]interface{}) (live.Ref, error) {
	ref := live.NewRef(collection, uuid.NewString())
	if err := db.Set(ctx, ref, fields); err != nil {
		return live.Ref{}, err
	}
	return ref, nil
}

func (db *DB) Delete(_ context.Context, ref live.Ref) error {
	db.Lock()
	if db.closed {
		db.Unlock()
		return errClosed
	}
	if _, ok := db.collections[ref.Collection][ref.ID]; !ok {
		db.Unlock()
		return core.ErrNotFound
	}
	delete(db.collections[ref.Collection], ref.ID)
	feeds := db.feedsLocked(ref.Collection)
	db.Unlock()

	kick(feeds)
	return nil
}

func (db *DB) WatchQuery(_ context.Context, q live.Query, sink live.QuerySink) (live.Unsubscribe, error) {
	return db.watch(q.Collection, func() *live.Feed {
		return live.QueryFeed(q, sink, db.Find)
	})
}

func (db *DB) WatchDocument(_ context.Context, ref live.Ref, sink live.DocSink) (live.Unsubscribe, error) {
	return db.watch(ref.Collection, func() *live.Feed {
		return live.DocumentFeed(ref, sink, db.Get)
	})
}

func (db *DB) watch(collection string, start func() *live.Feed) (live.Unsubscribe, error) {
	db.Lock()
	defer db.Unlock()
	if db.closed {
		return nil, errClosed
	}

	sub := &subscription{collection: collection, feed: start()}
	db.subs[sub] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			db.Lock()
			delete(db.subs, sub)
			db.Unlock()
			sub.feed.Stop()
		})
	}, nil
}

// Close stops every subscription; the store cannot be used afterwards.
func (db *DB) Close() error {
	db.Lock()
	if db.closed {
		db.Unlock()
		return nil
	}
	db.closed = true
	feeds := make([]*live.Feed, 0, len(db.subs))
	for sub := range db.subs {
		feeds = append(feeds, sub.feed)
	}
	db.subs = make(map[*subscription]struct{})
	db.Unlock()

	for _, f := range feeds {
		f.Stop()
	}
	return nil
}

func (db *DB) feedsLocked(collection string) []*live.Feed {
	var feeds []*live.Feed
	for sub := range db.subs {
		if sub.collection == collection {
			feeds = append(feeds, sub.feed)
		}
	}
	return feeds
}

func kick(feeds []*live.Feed) {
	for _, f := range feeds {
		f.Kick()
	}
}
