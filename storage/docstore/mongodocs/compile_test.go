package mongodocs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/trezcool/masomo-live/core/live"
)

func TestCompileFilter(t *testing.T) {
	tests := []struct {
		name  string
		query live.Query
		want  bson.M
	}{
		{"no filter", live.NewQuery("courses"), bson.M{}},
		{
			"equality",
			live.NewQuery("courses").Where("published", live.OpEq, true),
			bson.M{"$and": bson.A{
				bson.M{"published": bson.M{"$eq": true}},
				bson.M{"published": notArray},
			}},
		},
		{
			"not equal requires the field",
			live.NewQuery("courses").Where("subject", live.OpNe, "math"),
			bson.M{"$and": bson.A{
				bson.M{"subject": bson.M{"$ne": "math"}},
				bson.M{"subject": bson.M{"$exists": true}},
				bson.M{"subject": notArray},
			}},
		},
		{
			"in",
			live.NewQuery("courses").Where("subject", live.OpIn, []string{"math", "art"}),
			bson.M{"$and": bson.A{
				bson.M{"subject": bson.M{"$in": bson.A{"math", "art"}}},
			}},
		},
		{
			"array contains",
			live.NewQuery("courses").Where("enrolled", live.OpArrayContains, "u1"),
			bson.M{"$and": bson.A{
				bson.M{"enrolled": bson.M{"$elemMatch": bson.M{"$eq": "u1"}}},
			}},
		},
		{
			"id",
			live.NewQuery("courses").Where("id", live.OpGt, "b"),
			bson.M{"$and": bson.A{
				bson.M{"_id": bson.M{"$gt": "b"}},
			}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := compileFilter(tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := compileFilter(live.NewQuery("courses").Where("id", live.OpArrayContains, "x"))
	assert.Error(t, err)
	_, err = compileFilter(live.NewQuery("courses").Where("subject", live.OpIn, "math"))
	assert.Error(t, err)
}

func TestCompileSort(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, compileSort(live.NewQuery("courses")))
	assert.Equal(t,
		bson.D{{Key: "createdAt", Value: -1}, {Key: "title", Value: 1}, {Key: "_id", Value: 1}},
		compileSort(live.NewQuery("courses").OrderBy("createdAt", false).OrderBy("title", true)),
	)
	assert.Equal(t, bson.D{{Key: "_id", Value: -1}}, compileSort(live.NewQuery("courses").OrderBy("id", false)))
}

func TestToRecord(t *testing.T) {
	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	rec := toRecord(bson.M{
		"_id":   "a",
		"level": int32(2),
		"at":    primitive.NewDateTimeFromTime(at),
		"meta":  bson.M{"views": int64(10)},
		"tags":  bson.A{"math", int32(1)},
	})

	assert.Equal(t, "a", rec.ID)
	assert.Equal(t, map[string]interface{}{
		"level": float64(2),
		"at":    at,
		"meta":  map[string]interface{}{"views": float64(10)},
		"tags":  []interface{}{"math", float64(1)},
	}, rec.Fields)
}
