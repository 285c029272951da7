package live

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
)

// Feed pumps the snapshots of one subscription from its own goroutine.
// Every Kick schedules a pull; kicks arriving while a pull runs are coalesced into one.
// The first pull happens right away. When a pull fails, its error is delivered and the feed stops.
type Feed struct {
	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartFeed starts a feed calling pull on each kick and onErr on the first pull error.
func StartFeed(pull func(ctx context.Context) error, onErr func(error)) *Feed {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		kick:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	f.Kick()

	go func() {
		defer close(f.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.kick:
			}
			if err := pull(ctx); err != nil {
				if ctx.Err() != nil {
					return // stopped while pulling
				}
				onErr(err)
				return
			}
		}
	}()
	return f
}

// Kick schedules a pull without blocking.
func (f *Feed) Kick() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Stop stops the feed and waits for its goroutine. It is safe to call more than once.
func (f *Feed) Stop() {
	f.once.Do(f.cancel)
	<-f.done
}

// Done is closed once the feed goroutine has exited.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// QueryFeed starts a feed delivering the result of find for q to sink.
// A pull returning the same records as the previous delivery is not delivered again.
func QueryFeed(q Query, sink QuerySink, find func(ctx context.Context, q Query) ([]Record, error)) *Feed {
	var last string
	delivered := false
	return StartFeed(func(ctx context.Context) error {
		records, err := find(ctx, q)
		if err != nil {
			return errors.Wrapf(err, "watch %s", q.Collection)
		}
		if fp := snapshotFingerprint(records); !delivered || fp != last {
			last, delivered = fp, true
			sink.deliver(records)
		}
		return nil
	}, sink.fail)
}

// DocumentFeed starts a feed delivering the record at ref to sink, nil when it does not exist.
// Unchanged records are not delivered again.
func DocumentFeed(ref Ref, sink DocSink, get func(ctx context.Context, ref Ref) (*Record, error)) *Feed {
	var last string
	delivered := false
	return StartFeed(func(ctx context.Context) error {
		record, err := get(ctx, ref)
		if err != nil && !core.IsNotFound(err) {
			return errors.Wrapf(err, "watch %s", ref.Path())
		}
		if err != nil {
			record = nil
		}
		var fp string
		if record != nil {
			fp = snapshotFingerprint([]Record{*record})
		}
		if !delivered || fp != last {
			last, delivered = fp, true
			sink.deliver(record)
		}
		return nil
	}, sink.fail)
}

// snapshotFingerprint identifies the contents of records, in order.
func snapshotFingerprint(records []Record) string {
	items := make([]interface{}, len(records))
	for i, r := range records {
		items[i] = []interface{}{r.ID, canonicalValue(r.Fields)}
	}
	return string(mustCanonicalJSON(items))
}
