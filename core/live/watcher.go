package live

import "context"

type (
	// Unsubscribe releases a subscription. It waits until no more callbacks can be delivered
	// and must be called exactly once, never from a sink callback.
	Unsubscribe func()

	// QuerySink receives the snapshots of a query subscription.
	QuerySink struct {
		OnSnapshot func(records []Record)
		OnError    func(err error)
	}

	// DocSink receives the snapshots of a document subscription; a nil record means it does not exist.
	DocSink struct {
		OnSnapshot func(record *Record)
		OnError    func(err error)
	}

	// Watcher is the watch primitive of a document store.
	// A subscription delivers at least one initial snapshot, then one per change.
	// After OnError the subscription is dead: nothing else is delivered and it is not retried,
	// but it must still be released. ctx only bounds the opening of the subscription.
	Watcher interface {
		WatchQuery(ctx context.Context, q Query, sink QuerySink) (Unsubscribe, error)
		WatchDocument(ctx context.Context, ref Ref, sink DocSink) (Unsubscribe, error)
	}

	// Store is a document store with a watch primitive.
	Store interface {
		Watcher

		// Get returns core.ErrNotFound when the record does not exist.
		Get(ctx context.Context, ref Ref) (*Record, error)
		Find(ctx context.Context, q Query) ([]Record, error)
		// Set creates or replaces the record at ref.
		Set(ctx context.Context, ref Ref, fields map[string]interface{}) error
		// Add creates a record with a generated id.
		Add(ctx context.Context, collection string, fields map[string]interface{}) (Ref, error)
		// Delete returns core.ErrNotFound when the record does not exist.
		Delete(ctx context.Context, ref Ref) error
		Close() error
	}
)

func (s QuerySink) deliver(records []Record) {
	if s.OnSnapshot != nil {
		s.OnSnapshot(records)
	}
}

func (s QuerySink) fail(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}

func (s DocSink) deliver(record *Record) {
	if s.OnSnapshot != nil {
		s.OnSnapshot(record)
	}
}

func (s DocSink) fail(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}
