package live_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/live"
	"github.com/trezcool/masomo-live/tests"
)

func TestFeed(t *testing.T) {
	var pulls int32
	pulled := make(chan struct{}, 10)
	f := live.StartFeed(func(ctx context.Context) error {
		atomic.AddInt32(&pulls, 1)
		pulled <- struct{}{}
		return nil
	}, func(err error) { t.Errorf("unexpected error: %v", err) })

	waitSignal(t, pulled) // initial pull
	f.Kick()
	waitSignal(t, pulled)

	f.Stop()
	f.Stop()
	f.Kick()
	assert.Equal(t, int32(2), atomic.LoadInt32(&pulls))
}

func TestFeed_ErrorStops(t *testing.T) {
	errs := make(chan error, 1)
	boom := errors.New("boom")
	f := live.StartFeed(func(ctx context.Context) error { return boom }, func(err error) { errs <- err })

	select {
	case err := <-errs:
		assert.Equal(t, boom, err)
	case <-time.After(time.Second):
		t.Fatal("error not delivered")
	}
	<-f.Done()
	f.Stop()
}

func TestDocumentFeed_NotFound(t *testing.T) {
	got := make(chan *live.Record, 1)
	f := live.DocumentFeed(live.NewRef("courses", "c1"), live.DocSink{
		OnSnapshot: func(r *live.Record) { got <- r },
		OnError:    func(err error) { t.Errorf("unexpected error: %v", err) },
	}, func(ctx context.Context, ref live.Ref) (*live.Record, error) {
		return nil, errors.Wrap(core.ErrNotFound, "get")
	})
	defer f.Stop()

	select {
	case r := <-got:
		assert.Nil(t, r)
	case <-time.After(time.Second):
		t.Fatal("snapshot not delivered")
	}
}

func TestQueryFeed(t *testing.T) {
	got := make(chan []live.Record, 1)
	f := live.QueryFeed(live.NewQuery("courses"), live.QuerySink{
		OnSnapshot: func(records []live.Record) { got <- records },
	}, func(ctx context.Context, q live.Query) ([]live.Record, error) {
		return []live.Record{testutil.Record("a")}, nil
	})
	defer f.Stop()

	select {
	case records := <-got:
		assert.Equal(t, []string{"a"}, testutil.IDs(records))
	case <-time.After(time.Second):
		t.Fatal("snapshot not delivered")
	}
}

func TestQueryFeed_SkipsUnchangedSnapshots(t *testing.T) {
	got := make(chan []live.Record, 10)
	pulled := make(chan struct{}, 10)
	results := [][]live.Record{
		{testutil.Record("a", "level", 1)},
		{testutil.Record("a", "level", 1.0)},
		{testutil.Record("a", "level", 2)},
	}
	var pulls int32
	f := live.QueryFeed(live.NewQuery("courses"), live.QuerySink{
		OnSnapshot: func(records []live.Record) { got <- records },
	}, func(ctx context.Context, q live.Query) ([]live.Record, error) {
		defer func() { pulled <- struct{}{} }()
		n := atomic.AddInt32(&pulls, 1)
		return results[int(n-1)%len(results)], nil
	})
	defer f.Stop()

	for i := 0; i < len(results); i++ {
		waitSignal(t, pulled)
		if i < len(results)-1 {
			f.Kick()
		}
	}
	f.Stop()

	close(got)
	var levels []interface{}
	for records := range got {
		levels = append(levels, records[0].Fields["level"])
	}
	assert.Equal(t, []interface{}{1, 2}, levels)
}

func TestDocumentFeed_SkipsUnchangedRecords(t *testing.T) {
	got := make(chan *live.Record, 10)
	pulled := make(chan struct{}, 10)
	results := []*live.Record{nil, nil, {ID: "c1", Fields: map[string]interface{}{"title": "Algebra"}}, {ID: "c1", Fields: map[string]interface{}{"title": "Algebra"}}, nil}
	var pulls int32
	f := live.DocumentFeed(live.NewRef("courses", "c1"), live.DocSink{
		OnSnapshot: func(r *live.Record) { got <- r },
	}, func(ctx context.Context, ref live.Ref) (*live.Record, error) {
		defer func() { pulled <- struct{}{} }()
		n := atomic.AddInt32(&pulls, 1)
		if r := results[int(n-1)%len(results)]; r != nil {
			return r, nil
		}
		return nil, core.ErrNotFound
	})
	defer f.Stop()

	for i := 0; i < len(results); i++ {
		waitSignal(t, pulled)
		if i < len(results)-1 {
			f.Kick()
		}
	}
	f.Stop()

	close(got)
	var present []bool
	for r := range got {
		present = append(present, r != nil)
	}
	assert.Equal(t, []bool{false, true, false}, present)
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
