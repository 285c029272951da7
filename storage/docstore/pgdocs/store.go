// Package pgdocs is a document store on a PostgreSQL jsonb table, watched with LISTEN/NOTIFY.
package pgdocs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/live"
)

// Channel is the NOTIFY channel of the documents trigger; payloads are "collection/id".
const Channel = "document_changes"

type (
	Store struct {
		db       core.DBExecutor
		listener *pq.Listener
		logger   core.Logger

		mu     sync.Mutex
		subs   map[*subscription]struct{}
		closed bool
		done   chan struct{}
		wg     sync.WaitGroup
	}

	subscription struct {
		collection string
		id         string // "" for queries
		feed       *live.Feed
	}

	row struct {
		ID     string          `db:"id"`
		Fields json.RawMessage `db:"fields"`
	}
)

var _ live.Store = (*Store)(nil) // interface compliance check

// Open returns a store on db, listening for changes on a dedicated connection to dsn.
func Open(db core.DBExecutor, dsn string, logger core.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger,
		subs:   make(map[*subscription]struct{}),
		done:   make(chan struct{}),
	}

	s.listener = pq.NewListener(dsn, 10*time.Millisecond, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn(fmt.Sprintf("pgdocs: listener event %d: %v", ev, err), err)
		}
	})
	if err := s.listener.Listen(Channel); err != nil {
		_ = s.listener.Close()
		return nil, errors.Wrap(err, "listener.Listen()")
	}

	s.wg.Add(1)
	go s.dispatch()
	return s, nil
}

// dispatch kicks the feeds concerned by each notification.
func (s *Store) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnected: notifications may have been lost
				s.kick(func(*subscription) bool { return true })
				continue
			}
			collection, id := splitPath(n.Extra)
			s.kick(func(sub *subscription) bool {
				return sub.collection == collection && (sub.id == "" || sub.id == id)
			})
		case <-time.After(90 * time.Second):
			go func() { _ = s.listener.Ping() }()
		}
	}
}

func splitPath(path string) (collection, id string) {
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func (s *Store) kick(match func(*subscription) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if match(sub) {
			sub.feed.Kick()
		}
	}
}

func (r row) record() (live.Record, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(r.Fields, &fields); err != nil {
		return live.Record{}, errors.Wrapf(err, "decoding document %s", r.ID)
	}
	return live.NewRecord(r.ID, fields), nil
}

func (s *Store) Get(ctx context.Context, ref live.Ref) (*live.Record, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT id, fields FROM documents WHERE collection = $1 AND id = $2`, ref.Collection, ref.ID)
	if errors.Cause(err) == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "selecting %s", ref.Path())
	}
	rec, err := r.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Find(ctx context.Context, q live.Query) ([]live.Record, error) {
	query, args, err := compileQuery(q)
	if err != nil {
		return nil, errors.Wrap(err, "compiling query")
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "selecting %s", q.Collection)
	}
	records := make([]live.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) Set(ctx context.Context, ref live.Ref, fields map[string]interface{}) error {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	data, err := jsonText(fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, fields) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()`,
		ref.Collection, ref.ID, data,
	)
	return errors.Wrapf(err, "upserting %s", ref.Path())
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]interface{}) (live.Ref, error) {
	ref := live.NewRef(collection, uuid.NewString())
	if err := s.Set(ctx, ref, fields); err != nil {
		return live.Ref{}, err
	}
	return ref, nil
}

func (s *Store) Delete(ctx context.Context, ref live.Ref) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, ref.Collection, ref.ID)
	if err != nil {
		return errors.Wrapf(err, "deleting %s", ref.Path())
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) WatchQuery(_ context.Context, q live.Query, sink live.QuerySink) (live.Unsubscribe, error) {
	if _, _, err := compileQuery(q); err != nil {
		return nil, errors.Wrap(err, "compiling query")
	}
	return s.watch(&subscription{collection: q.Collection}, func() *live.Feed {
		return live.QueryFeed(q, sink, s.Find)
	})
}

func (s *Store) WatchDocument(_ context.Context, ref live.Ref, sink live.DocSink) (live.Unsubscribe, error) {
	return s.watch(&subscription{collection: ref.Collection, id: ref.ID}, func() *live.Feed {
		return live.DocumentFeed(ref, sink, s.Get)
	})
}

func (s *Store) watch(sub *subscription, start func() *live.Feed) (live.Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("pgdocs: store closed")
	}
	sub.feed = start()
	s.subs[sub] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
			sub.feed.Stop()
		})
	}, nil
}

// Close stops the subscriptions and the listener. The database handle is left open.
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
		sub.feed.Stop()
	}
	close(s.done)
	err := s.listener.Close()
	s.wg.Wait()
	return errors.Wrap(err, "listener.Close()")
}
