// Package mongodocs is a document store on MongoDB, watched with change streams.
// Change streams need a replica set.
package mongodocs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/live"
)

type (
	Store struct {
		client *mongo.Client
		db     *mongo.Database
		logger core.Logger

		mu     sync.Mutex
		subs   map[*subscription]struct{}
		closed bool
	}

	subscription struct {
		feed   *live.Feed
		cancel context.CancelFunc
		done   chan struct{}
	}
)

var _ live.Store = (*Store)(nil) // interface compliance check

// Open connects to the MongoDB server at uri and uses the database dbName.
func Open(ctx context.Context, uri, dbName string, logger core.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo.Connect()")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo ping")
	}
	return &Store{
		client: client,
		db:     client.Database(dbName),
		logger: logger,
		subs:   make(map[*subscription]struct{}),
	}, nil
}

func (s *Store) Get(ctx context.Context, ref live.Ref) (*live.Record, error) {
	var doc bson.M
	err := s.db.Collection(ref.Collection).FindOne(ctx, bson.M{"_id": ref.ID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "finding %s", ref.Path())
	}
	rec := toRecord(doc)
	return &rec, nil
}

func (s *Store) Find(ctx context.Context, q live.Query) ([]live.Record, error) {
	filter, err := compileFilter(q)
	if err != nil {
		return nil, errors.Wrap(err, "compiling query")
	}
	opts := options.Find().SetSort(compileSort(q))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "finding %s", q.Collection)
	}
	defer cur.Close(ctx)

	records := make([]live.Record, 0)
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decoding document")
		}
		records = append(records, toRecord(doc))
	}
	return records, errors.Wrap(cur.Err(), "reading cursor")
}

func (s *Store) Set(ctx context.Context, ref live.Ref, fields map[string]interface{}) error {
	doc := bson.M{}
	for k, v := range fields {
		doc[k] = v
	}
	doc["_id"] = ref.ID
	_, err := s.db.Collection(ref.Collection).ReplaceOne(ctx, bson.M{"_id": ref.ID}, doc, options.Replace().SetUpsert(true))
	return errors.Wrapf(err, "replacing %s", ref.Path())
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]interface{}) (live.Ref, error) {
	ref := live.NewRef(collection, uuid.NewString())
	if err := s.Set(ctx, ref, fields); err != nil {
		return live.Ref{}, err
	}
	return ref, nil
}

func (s *Store) Delete(ctx context.Context, ref live.Ref) error {
	res, err := s.db.Collection(ref.Collection).DeleteOne(ctx, bson.M{"_id": ref.ID})
	if err != nil {
		return errors.Wrapf(err, "deleting %s", ref.Path())
	}
	if res.DeletedCount == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) WatchQuery(ctx context.Context, q live.Query, sink live.QuerySink) (live.Unsubscribe, error) {
	if _, err := compileFilter(q); err != nil {
		return nil, errors.Wrap(err, "compiling query")
	}
	fail := failOnce(sink.OnError)
	return s.watch(ctx, q.Collection, mongo.Pipeline{}, fail, func() *live.Feed {
		return live.QueryFeed(q, live.QuerySink{OnSnapshot: sink.OnSnapshot, OnError: fail}, s.Find)
	})
}

func (s *Store) WatchDocument(ctx context.Context, ref live.Ref, sink live.DocSink) (live.Unsubscribe, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: ref.ID}}}}}
	fail := failOnce(sink.OnError)
	return s.watch(ctx, ref.Collection, pipeline, fail, func() *live.Feed {
		return live.DocumentFeed(ref, live.DocSink{OnSnapshot: sink.OnSnapshot, OnError: fail}, s.Get)
	})
}

// failOnce wraps onErr to report at most one error per subscription.
func failOnce(onErr func(error)) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			if onErr != nil {
				onErr(err)
			}
		})
	}
}

// watch opens a change stream before the first read, so that no change is missed,
// then kicks the feed on every event. A stream failure stops the feed and is reported to onErr.
func (s *Store) watch(ctx context.Context, collection string, pipeline mongo.Pipeline, onErr func(error), start func() *live.Feed) (live.Unsubscribe, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("mongodocs: store closed")
	}
	s.mu.Unlock()

	openCtx, cancelOpen := context.WithTimeout(ctx, 10*time.Second)
	defer cancelOpen()
	stream, err := s.db.Collection(collection).Watch(openCtx, pipeline)
	if err != nil {
		return nil, errors.Wrapf(err, "watching %s", collection)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	sub.feed = start()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		sub.feed.Stop()
		_ = stream.Close(context.Background())
		return nil, errors.New("mongodocs: store closed")
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer close(sub.done)
		defer stream.Close(context.Background())
		for stream.Next(streamCtx) {
			sub.feed.Kick()
		}
		if streamCtx.Err() != nil {
			return // unsubscribed
		}
		err := stream.Err()
		if err == nil {
			err = errors.New("change stream ended")
		}
		s.logger.Warn("mongodocs: change stream on "+collection+" failed", err)
		sub.feed.Stop()
		onErr(errors.Wrapf(err, "watching %s", collection))
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
			sub.stop()
		})
	}, nil
}

func (sub *subscription) stop() {
	sub.cancel()
	sub.feed.Stop()
	<-sub.done
}

// Close stops the subscriptions and disconnects from the server.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[*subscription]struct{})
	s.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Wrap(s.client.Disconnect(ctx), "mongo.Disconnect()")
}
