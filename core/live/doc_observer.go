package live

import (
	"context"

	"github.com/trezcool/masomo-live/core"
)

type DocState = State[*Record]

// DocObserver keeps a live view of a single record. A nil Data with Loading false means it does not exist.
type DocObserver struct {
	watcher Watcher
	obs     *observer[*Record]
}

func NewDocObserver(w Watcher, logger core.Logger) *DocObserver {
	return &DocObserver{
		watcher: w,
		obs:     newObserver[*Record]("document", logger),
	}
}

// Set watches the record at ref; nil stops watching and clears the data.
// Refs are compared by path.
func (do *DocObserver) Set(ref *Ref) {
	if ref == nil {
		do.obs.set("", "", nil)
		return
	}
	r := *ref
	do.obs.set(r.Key(), r.Path(), func(deliver func(*Record), fail func(error)) (Unsubscribe, error) {
		return do.watcher.WatchDocument(context.Background(), r, DocSink{
			OnSnapshot: deliver,
			OnError:    fail,
		})
	})
}

func (do *DocObserver) State() DocState {
	return do.obs.current()
}

// Updates signals state changes. Signals are coalesced; the channel is closed by Close.
func (do *DocObserver) Updates() <-chan struct{} {
	return do.obs.updates
}

// Wait returns the first state that is not loading.
func (do *DocObserver) Wait(ctx context.Context) (DocState, error) {
	return do.obs.wait(ctx)
}

func (do *DocObserver) Close() {
	do.obs.close()
}
