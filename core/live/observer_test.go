package live_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core/live"
	"github.com/trezcool/masomo-live/tests"
)

func setupQueryObserver() (*live.QueryObserver, *testutil.FakeWatcher, *testutil.Logger) {
	w := testutil.NewFakeWatcher()
	logger := testutil.NewLogger()
	return live.NewQueryObserver(w, logger), w, logger
}

func TestQueryObserver_Snapshot(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	q := live.NewQuery("courses")
	obs.Set(&q)
	assert.True(t, obs.State().Loading)

	w.Last(t).Snapshot(testutil.Record("a", "title", "Algebra"), testutil.Record("b", "title", "Biology"))

	state := obs.State()
	assert.Len(t, state.Data, 2)
	assert.Equal(t, []string{"a", "b"}, testutil.IDs(state.Data))
	assert.False(t, state.Loading)
	assert.NoError(t, state.Err)
}

func TestQueryObserver_SnapshotReplacesData(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	q := live.NewQuery("courses")
	obs.Set(&q)
	sub := w.Last(t)
	sub.Snapshot(testutil.Record("a"), testutil.Record("b"))
	sub.Snapshot(testutil.Record("c"))

	assert.Equal(t, []string{"c"}, testutil.IDs(obs.State().Data))

	sub.Snapshot()
	state := obs.State()
	assert.NotNil(t, state.Data, "an empty result is not absent")
	assert.Empty(t, state.Data)
}

func TestQueryObserver_ErrorKeepsData(t *testing.T) {
	obs, w, logger := setupQueryObserver()
	defer obs.Close()

	q := live.NewQuery("courses")
	obs.Set(&q)
	sub := w.Last(t)
	sub.Snapshot(testutil.Record("a"))

	boom := errors.New("permission denied")
	sub.Fail(boom)

	state := obs.State()
	assert.Equal(t, boom, state.Err)
	assert.False(t, state.Loading)
	assert.Equal(t, []string{"a"}, testutil.IDs(state.Data))
	assert.Equal(t, 1, logger.Count("error"))
}

func TestQueryObserver_SnapshotClearsError(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	q := live.NewQuery("courses")
	obs.Set(&q)
	sub := w.Last(t)
	sub.Fail(errors.New("unavailable"))
	sub.Snapshot(testutil.Record("a"))

	assert.NoError(t, obs.State().Err)
}

func TestQueryObserver_NilClosesAndClears(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	q := live.NewQuery("courses")
	obs.Set(&q)
	w.Last(t).Snapshot(testutil.Record("a"))

	obs.Set(nil)

	state := obs.State()
	assert.Nil(t, state.Data)
	assert.False(t, state.Loading)
	assert.NoError(t, state.Err)
	assert.Equal(t, 0, w.Open())
	assert.True(t, w.Last(t).Closed())
}

func TestQueryObserver_NilFirstOpensNothing(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	obs.Set(nil)

	assert.Equal(t, 0, w.Opened())
	assert.Equal(t, live.QueryState{}, obs.State())
}

func TestQueryObserver_StructurallyEqualQueryIsNoop(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	q1 := live.NewQuery("courses").Where("published", live.OpEq, true).Where("level", live.OpEq, 1)
	q2 := live.NewQuery("courses").Where("level", live.OpEq, 1.0).Where("published", live.OpEq, true)
	obs.Set(&q1)
	w.Last(t).Snapshot(testutil.Record("a"))
	obs.Set(&q2)
	obs.Set(&q1)

	assert.Equal(t, 1, w.Opened())
	assert.Equal(t, 1, w.Open())
	assert.False(t, obs.State().Loading)
}

func TestQueryObserver_ChangedQueryClosesBeforeOpening(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	q1 := live.NewQuery("courses").Where("level", live.OpEq, 1)
	q2 := live.NewQuery("courses").Where("level", live.OpEq, 2)
	obs.Set(&q1)
	obs.Set(&q2)

	assert.Equal(t, []string{
		"open " + q1.Key(),
		"close " + q1.Key(),
		"open " + q2.Key(),
	}, w.Events())
	assert.Equal(t, 1, w.MaxOpen())
}

func TestQueryObserver_MutatedCopyResubscribes(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	q := live.NewQuery("courses").Where("level", live.OpEq, 1)
	obs.Set(&q)
	q.Filters[0].Value = 2 // same variable, different contents
	obs.Set(&q)

	assert.Equal(t, 2, w.Opened())
	assert.Equal(t, 1, w.Open())
}

func TestQueryObserver_LargeIntegerChangeResubscribes(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	q := live.NewQuery("counters").Where("n", live.OpEq, int64(9007199254740992))
	obs.Set(&q)
	q.Filters[0].Value = int64(9007199254740993)
	obs.Set(&q)

	assert.Equal(t, 2, w.Opened())
	assert.Equal(t, 1, w.Open())
}

func TestQueryObserver_NonFiniteValues(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	for _, v := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		q := live.NewQuery("scores").Where("score", live.OpLt, v)
		assert.NotPanics(t, func() { obs.Set(&q) })
	}
	assert.Equal(t, 3, w.Opened())
	assert.Equal(t, 1, w.Open())
}

func TestQueryObserver_AtMostOneSubscription(t *testing.T) {
	obs, w, _ := setupQueryObserver()

	queries := []*live.Query{}
	for _, level := range []int{1, 2, 2, 3, 1, 1} {
		q := live.NewQuery("courses").Where("level", live.OpEq, level)
		queries = append(queries, &q)
		if level == 3 {
			queries = append(queries, nil)
		}
	}
	for _, q := range queries {
		obs.Set(q)
		assert.LessOrEqual(t, w.Open(), 1)
	}
	obs.Close()

	assert.Equal(t, 1, w.MaxOpen())
	assert.Equal(t, 0, w.Open())
	assert.Equal(t, 4, w.Opened()) // 1, 2, 3, 1
}

func TestQueryObserver_LateCallbacksAreDropped(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	q1 := live.NewQuery("courses").Where("level", live.OpEq, 1)
	q2 := live.NewQuery("courses").Where("level", live.OpEq, 2)
	obs.Set(&q1)
	old := w.Last(t)
	obs.Set(&q2)
	w.Last(t).Snapshot(testutil.Record("new"))

	old.Snapshot(testutil.Record("stale"))
	old.Fail(errors.New("stale"))

	state := obs.State()
	assert.Equal(t, []string{"new"}, testutil.IDs(state.Data))
	assert.NoError(t, state.Err)
}

func TestQueryObserver_FailedOpen(t *testing.T) {
	obs, w, logger := setupQueryObserver()
	defer obs.Close()

	boom := errors.New("invalid query")
	w.FailOpens(boom)
	q := live.NewQuery("courses")
	obs.Set(&q)

	state := obs.State()
	assert.Equal(t, boom, state.Err)
	assert.False(t, state.Loading)
	assert.Equal(t, 0, w.Open())
	assert.Equal(t, 1, logger.Count("error"))

	// setting the same query again retries
	w.FailOpens(nil)
	obs.Set(&q)
	assert.Equal(t, 1, w.Open())
}

func TestQueryObserver_SameQueryAfterErrorResubscribes(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	q := live.NewQuery("courses")
	obs.Set(&q)
	w.Last(t).Fail(errors.New("unavailable"))
	obs.Set(&q)

	assert.Equal(t, 2, w.Opened())
	assert.Equal(t, 1, w.Open())
}

func TestQueryObserver_Close(t *testing.T) {
	obs, w, _ := setupQueryObserver()

	q := live.NewQuery("courses")
	obs.Set(&q)
	obs.Close()
	obs.Close()

	assert.Equal(t, 0, w.Open())
	_, ok := <-drain(obs.Updates())
	assert.False(t, ok, "updates must be closed")

	obs.Set(&q) // ignored once closed
	assert.Equal(t, 1, w.Opened())
}

func TestQueryObserver_Wait(t *testing.T) {
	obs, w, _ := setupQueryObserver()
	defer obs.Close()

	q := live.NewQuery("courses")
	obs.Set(&q)
	sub := w.Last(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		sub.Snapshot(testutil.Record("a"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := obs.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, testutil.IDs(state.Data))
}

func TestQueryObserver_WaitTimeout(t *testing.T) {
	obs, _, _ := setupQueryObserver()
	defer obs.Close()

	q := live.NewQuery("courses")
	obs.Set(&q)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	state, err := obs.Wait(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.True(t, state.Loading)
}

func TestDocObserver(t *testing.T) {
	w := testutil.NewFakeWatcher()
	obs := live.NewDocObserver(w, testutil.NewLogger())
	defer obs.Close()

	ref := live.NewRef("courses", "missing")
	obs.Set(&ref)
	assert.True(t, obs.State().Loading)

	t.Run("absent record", func(t *testing.T) {
		w.Last(t).Doc(nil)
		state := obs.State()
		assert.Nil(t, state.Data)
		assert.False(t, state.Loading)
		assert.NoError(t, state.Err)
	})

	t.Run("same path is a no-op", func(t *testing.T) {
		same := live.Ref{Collection: "courses", ID: "missing"}
		obs.Set(&same)
		assert.Equal(t, 1, w.Opened())
	})

	t.Run("other ref closes before opening", func(t *testing.T) {
		other := live.NewRef("courses", "c1")
		obs.Set(&other)
		rec := testutil.Record("c1", "title", "Algebra")
		w.Last(t).Doc(&rec)

		assert.Equal(t, []string{"open courses/missing", "close courses/missing", "open courses/c1"}, w.Events())
		state := obs.State()
		require.NotNil(t, state.Data)
		assert.Equal(t, "c1", state.Data.ID)
		assert.False(t, state.Loading)
	})

	t.Run("error keeps the record", func(t *testing.T) {
		w.Last(t).Fail(errors.New("unavailable"))
		state := obs.State()
		assert.Error(t, state.Err)
		require.NotNil(t, state.Data)
		assert.Equal(t, "c1", state.Data.ID)
	})

	t.Run("nil clears", func(t *testing.T) {
		obs.Set(nil)
		assert.Equal(t, live.DocState{}, obs.State())
		assert.Equal(t, 0, w.Open())
	})
}

// drain returns a channel closed once updates is closed, after consuming pending signals.
func drain(updates <-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		for range updates {
		}
		close(out)
	}()
	return out
}
