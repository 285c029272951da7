package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/trezcool/masomo-live/core"
)

// State is the view an observer exposes to its consumers.
type State[T any] struct {
	Data    T
	Loading bool
	Err     error
}

// observer holds the subscription lifecycle shared by QueryObserver and DocObserver.
type observer[T any] struct {
	kind   string
	logger core.Logger

	// setMu serialises target changes and teardown
	setMu  sync.Mutex
	key    string // "" when nothing is watched
	desc   string
	unsub  Unsubscribe
	closed bool

	// mu guards the fields below; callbacks only ever take mu
	mu            sync.Mutex
	state         State[T]
	gen           uint64
	dead          bool // the current subscription reported an error
	updates       chan struct{}
	updatesClosed bool
}

type opener[T any] func(deliver func(T), fail func(error)) (Unsubscribe, error)

func newObserver[T any](kind string, logger core.Logger) *observer[T] {
	return &observer[T]{
		kind:    kind,
		logger:  logger,
		updates: make(chan struct{}, 1),
	}
}

// set watches the target identified by key ("" for none), released before any new subscription is opened.
func (o *observer[T]) set(key, desc string, open opener[T]) {
	o.setMu.Lock()
	defer o.setMu.Unlock()
	if o.closed {
		return
	}

	o.mu.Lock()
	same := key != "" && key == o.key && !o.dead
	o.mu.Unlock()
	if same {
		return
	}

	o.release()

	o.mu.Lock()
	if key == "" {
		var zero T
		o.state = State[T]{Data: zero}
		o.notifyLocked()
		o.mu.Unlock()
		return
	}
	o.gen++
	gen := o.gen
	o.dead = false
	o.state.Loading = true
	o.notifyLocked()
	o.mu.Unlock()

	unsub, err := open(
		func(data T) { o.onSnapshot(gen, data) },
		func(err error) { o.onError(gen, err) },
	)
	if err != nil {
		// nothing to release: the target is not recorded so that setting it again retries
		o.logger.Error(fmt.Sprintf("live: opening %s watch %s: %v", o.kind, desc, err), err)
		o.mu.Lock()
		if o.gen == gen {
			o.state.Loading = false
			o.state.Err = err
			o.notifyLocked()
		}
		o.mu.Unlock()
		return
	}
	o.key, o.desc, o.unsub = key, desc, unsub
}

// release closes the current subscription, if any. Must be called with setMu held.
func (o *observer[T]) release() {
	o.mu.Lock()
	o.gen++ // late callbacks of the released subscription are dropped
	o.mu.Unlock()

	if o.unsub != nil {
		o.unsub()
		o.unsub = nil
	}
	o.key, o.desc = "", ""
}

func (o *observer[T]) onSnapshot(gen uint64, data T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	o.state = State[T]{Data: data}
	o.notifyLocked()
}

func (o *observer[T]) onError(gen uint64, err error) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.dead = true
	o.state.Loading = false
	o.state.Err = err
	o.notifyLocked()
	o.mu.Unlock()

	o.logger.Error(fmt.Sprintf("live: %s watch failed: %v", o.kind, err), err)
}

func (o *observer[T]) current() State[T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *observer[T]) notifyLocked() {
	if o.updatesClosed {
		return
	}
	select {
	case o.updates <- struct{}{}:
	default:
	}
}

// wait blocks until the state is not loading, ctx is done or the observer is closed.
func (o *observer[T]) wait(ctx context.Context) (State[T], error) {
	for {
		s := o.current()
		if !s.Loading {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case _, ok := <-o.updates:
			if !ok {
				return o.current(), nil
			}
		}
	}
}

func (o *observer[T]) close() {
	o.setMu.Lock()
	defer o.setMu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.release()

	o.mu.Lock()
	o.updatesClosed = true
	close(o.updates)
	o.mu.Unlock()
}
