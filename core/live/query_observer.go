package live

import (
	"context"

	"github.com/trezcool/masomo-live/core"
)

type QueryState = State[[]Record]

// QueryObserver keeps a live view of the records matching a query.
// It holds at most one subscription, replaced only when the query changes structurally.
type QueryObserver struct {
	watcher Watcher
	obs     *observer[[]Record]
}

func NewQueryObserver(w Watcher, logger core.Logger) *QueryObserver {
	return &QueryObserver{
		watcher: w,
		obs:     newObserver[[]Record]("query", logger),
	}
}

// Set watches q; nil stops watching and clears the data.
// Setting a query with the same Key as the current one does nothing.
func (qo *QueryObserver) Set(q *Query) {
	if q == nil {
		qo.obs.set("", "", nil)
		return
	}
	query := q.clone()
	qo.obs.set(query.Key(), query.String(), func(deliver func([]Record), fail func(error)) (Unsubscribe, error) {
		return qo.watcher.WatchQuery(context.Background(), query, QuerySink{
			OnSnapshot: func(records []Record) {
				data := make([]Record, len(records))
				copy(data, records)
				deliver(data)
			},
			OnError: fail,
		})
	})
}

// State returns the current data, loading flag and error. The data must not be modified.
func (qo *QueryObserver) State() QueryState {
	return qo.obs.current()
}

// Updates signals state changes. Signals are coalesced; the channel is closed by Close.
// It is meant for a single consumer.
func (qo *QueryObserver) Updates() <-chan struct{} {
	return qo.obs.updates
}

// Wait returns the first state that is not loading.
func (qo *QueryObserver) Wait(ctx context.Context) (QueryState, error) {
	return qo.obs.wait(ctx)
}

// Close releases the subscription; the observer cannot be used afterwards.
func (qo *QueryObserver) Close() {
	qo.obs.close()
}
