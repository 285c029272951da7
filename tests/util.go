package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/live"
)

// Record builds a record from alternating field names and values.
func Record(id string, kv ...interface{}) live.Record {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i].(string)] = kv[i+1]
	}
	return live.NewRecord(id, fields)
}

// IDs returns the ids of records, in order.
func IDs(records []live.Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

// FakeSubscription is a subscription opened on a FakeWatcher.
// Its methods deliver directly to the sink, even once closed, to simulate late callbacks.
type FakeSubscription struct {
	Key   string
	Query *live.Query
	Ref   *live.Ref

	w         *FakeWatcher
	querySink live.QuerySink
	docSink   live.DocSink
	closed    bool
}

func (s *FakeSubscription) Snapshot(records ...live.Record) {
	s.querySink.OnSnapshot(records)
}

func (s *FakeSubscription) Doc(record *live.Record) {
	s.docSink.OnSnapshot(record)
}

func (s *FakeSubscription) Fail(err error) {
	if s.Query != nil {
		s.querySink.OnError(err)
	} else {
		s.docSink.OnError(err)
	}
}

func (s *FakeSubscription) Closed() bool {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	return s.closed
}

// FakeWatcher is a live.Watcher delivering nothing by itself; tests drive the subscriptions.
// It keeps an ordered log of "open <key>" and "close <key>" events.
type FakeWatcher struct {
	mu      sync.Mutex
	subs    []*FakeSubscription
	events  []string
	open    int
	maxOpen int
	openErr error
	// Initial, when set, is delivered synchronously to every new query subscription.
	Initial []live.Record
}

var _ live.Watcher = (*FakeWatcher)(nil)

func NewFakeWatcher() *FakeWatcher {
	return &FakeWatcher{}
}

// FailOpens makes the following watch calls fail with err (nil to stop).
func (w *FakeWatcher) FailOpens(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.openErr = err
}

func (w *FakeWatcher) WatchQuery(_ context.Context, q live.Query, sink live.QuerySink) (live.Unsubscribe, error) {
	sub := &FakeSubscription{Key: q.Key(), Query: &q, querySink: sink}
	unsub, err := w.register(sub)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	initial := w.Initial
	w.mu.Unlock()
	if initial != nil {
		sink.OnSnapshot(initial)
	}
	return unsub, nil
}

func (w *FakeWatcher) WatchDocument(_ context.Context, ref live.Ref, sink live.DocSink) (live.Unsubscribe, error) {
	sub := &FakeSubscription{Key: ref.Key(), Ref: &ref, docSink: sink}
	return w.register(sub)
}

func (w *FakeWatcher) register(sub *FakeSubscription) (live.Unsubscribe, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.openErr != nil {
		return nil, w.openErr
	}

	sub.w = w
	w.subs = append(w.subs, sub)
	w.events = append(w.events, "open "+sub.Key)
	w.open++
	if w.open > w.maxOpen {
		w.maxOpen = w.open
	}

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if sub.closed {
			panic(fmt.Sprintf("subscription %s released twice", sub.Key))
		}
		sub.closed = true
		w.open--
		w.events = append(w.events, "close "+sub.Key)
	}, nil
}

// Open returns the number of subscriptions currently open.
func (w *FakeWatcher) Open() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// MaxOpen returns the highest number of subscriptions open at the same time.
func (w *FakeWatcher) MaxOpen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxOpen
}

// Opened returns the number of subscriptions opened so far.
func (w *FakeWatcher) Opened() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

func (w *FakeWatcher) Events() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.events...)
}

// Last returns the most recently opened subscription.
func (w *FakeWatcher) Last(t *testing.T) *FakeSubscription {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.subs) == 0 {
		t.Fatal("no subscription was opened")
	}
	return w.subs[len(w.subs)-1]
}

// Logger is a core.Logger keeping the messages it receives.
type Logger struct {
	mu       sync.Mutex
	Messages map[string][]string // {level: [msg]}
}

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger {
	return &Logger{Messages: make(map[string][]string)}
}

func (l *Logger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages[level] = append(l.Messages[level], msg)
}

// Count returns the number of messages logged at level.
func (l *Logger) Count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Messages[level])
}

func (l *Logger) Debug(msg string, _ ...interface{}) { l.log("debug", msg) }
func (l *Logger) Info(msg string, _ ...interface{})  { l.log("info", msg) }
func (l *Logger) Warn(msg string, _ ...interface{})  { l.log("warn", msg) }
func (l *Logger) Error(msg string, _ ...interface{}) { l.log("error", msg) }
func (l *Logger) Fatal(msg string, _ ...interface{}) { l.log("fatal", msg) }

// NextSnapshot returns the next snapshot sent on ch, failing after a second.
func NextSnapshot(t *testing.T, ch <-chan []live.Record) []live.Record {
	t.Helper()
	select {
	case records := <-ch:
		return records
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
	}
	return nil
}

// WaitForIDs consumes snapshots until one has the wanted ids.
func WaitForIDs(t *testing.T, ch <-chan []live.Record, timeout time.Duration, ids []string) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case records := <-ch:
			if assert.ObjectsAreEqual(ids, IDs(records)) {
				return
			}
		case <-deadline:
			t.Fatalf("no snapshot with %v", ids)
		}
	}
}
