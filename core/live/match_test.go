package live_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo-live/core/live"
	"github.com/trezcool/masomo-live/tests"
)

func TestMatch(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := testutil.Record("c1",
		"title", "Algebra",
		"level", 2,
		"published", true,
		"enrolled", []interface{}{"u1", "u2"},
		"createdAt", created,
		"teacher", map[string]interface{}{"id": "t1"},
		"views", int64(9007199254740993),
	)

	tests := []struct {
		name string
		q    live.Query
		want bool
	}{
		{name: "no filter", q: live.NewQuery("courses"), want: true},
		{name: "eq string", q: live.NewQuery("courses").Where("title", live.OpEq, "Algebra"), want: true},
		{name: "eq number across types", q: live.NewQuery("courses").Where("level", live.OpEq, 2.0), want: true},
		{name: "ne", q: live.NewQuery("courses").Where("title", live.OpNe, "Art"), want: true},
		{name: "lt", q: live.NewQuery("courses").Where("level", live.OpLt, 3), want: true},
		{name: "lte", q: live.NewQuery("courses").Where("level", live.OpLte, 2), want: true},
		{name: "gt false", q: live.NewQuery("courses").Where("level", live.OpGt, 2), want: false},
		{name: "gte", q: live.NewQuery("courses").Where("level", live.OpGte, 2), want: true},
		{name: "compare across kinds", q: live.NewQuery("courses").Where("level", live.OpLt, "9"), want: false},
		{name: "time after", q: live.NewQuery("courses").Where("createdAt", live.OpGt, created.Add(-time.Hour)), want: true},
		{name: "in", q: live.NewQuery("courses").Where("title", live.OpIn, []string{"Art", "Algebra"}), want: true},
		{name: "in miss", q: live.NewQuery("courses").Where("title", live.OpIn, []string{"Art"}), want: false},
		{name: "array-contains", q: live.NewQuery("courses").Where("enrolled", live.OpArrayContains, "u2"), want: true},
		{name: "array-contains miss", q: live.NewQuery("courses").Where("enrolled", live.OpArrayContains, "u3"), want: false},
		{name: "nested field", q: live.NewQuery("courses").Where("teacher.id", live.OpEq, "t1"), want: true},
		{name: "id field", q: live.NewQuery("courses").Where("id", live.OpEq, "c1"), want: true},
		{name: "missing field", q: live.NewQuery("courses").Where("sponsors", live.OpNe, "s1"), want: false},
		{name: "large integer exact", q: live.NewQuery("courses").Where("views", live.OpEq, int64(9007199254740993)), want: true},
		{name: "large integer neighbour", q: live.NewQuery("courses").Where("views", live.OpEq, int64(9007199254740992)), want: false},
		{name: "large integer ordered", q: live.NewQuery("courses").Where("views", live.OpGt, int64(9007199254740992)), want: true},
		{name: "below infinity", q: live.NewQuery("courses").Where("level", live.OpLt, math.Inf(1)), want: true},
		{name: "above negative infinity", q: live.NewQuery("courses").Where("level", live.OpLt, math.Inf(-1)), want: false},
		{name: "nan never equal to a number", q: live.NewQuery("courses").Where("level", live.OpEq, math.NaN()), want: false},
		{name: "all filters must match", q: live.NewQuery("courses").Where("published", live.OpEq, true).Where("level", live.OpEq, 3), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, live.Match(rec, tt.q))
		})
	}
}

func TestApply(t *testing.T) {
	records := []live.Record{
		testutil.Record("a", "title", "Chemistry", "level", 1),
		testutil.Record("b", "title", "Algebra", "level", 2),
		testutil.Record("c", "title", "Biology", "level", 2),
		testutil.Record("d", "level", 3),
	}

	tests := []struct {
		name string
		q    live.Query
		want []string
	}{
		{name: "ordered by id by default", q: live.NewQuery("courses"), want: []string{"a", "b", "c", "d"}},
		{name: "ascending", q: live.NewQuery("courses").OrderBy("title", true), want: []string{"d", "b", "c", "a"}},
		{name: "descending then ascending", q: live.NewQuery("courses").OrderBy("level", false).OrderBy("title", true), want: []string{"d", "b", "c", "a"}},
		{name: "filtered and limited", q: live.NewQuery("courses").Where("level", live.OpEq, 2).OrderBy("title", false).WithLimit(1), want: []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testutil.IDs(live.Apply(records, tt.q)))
		})
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, testutil.IDs(records), "input must not be reordered")
}
