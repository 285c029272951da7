package mongodocs

import (
	"reflect"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/trezcool/masomo-live/core/live"
)

var comparisons = map[live.Op]string{
	live.OpEq:  "$eq",
	live.OpNe:  "$ne",
	live.OpLt:  "$lt",
	live.OpLte: "$lte",
	live.OpGt:  "$gt",
	live.OpGte: "$gte",
	live.OpIn:  "$in",
}

// notArray keeps scalar operators from matching array elements.
var notArray = bson.M{"$not": bson.M{"$type": "array"}}

func fieldName(field string) string {
	if field == live.IDField {
		return "_id"
	}
	return field
}

// compileFilter turns the filters of q into a MongoDB filter document.
func compileFilter(q live.Query) (bson.M, error) {
	var clauses bson.A
	for _, f := range q.Filters {
		field := fieldName(f.Field)

		if f.Op == live.OpArrayContains {
			if field == "_id" {
				return nil, errors.Errorf("operator %q is not supported on id", f.Op)
			}
			clauses = append(clauses, bson.M{field: bson.M{"$elemMatch": bson.M{"$eq": f.Value}}})
			continue
		}

		op, ok := comparisons[f.Op]
		if !ok {
			return nil, errors.Errorf("unsupported operator %q", f.Op)
		}
		value := f.Value
		if f.Op == live.OpIn {
			items, err := listOf(f.Value)
			if err != nil {
				return nil, errors.Wrapf(err, "filter %s in", f.Field)
			}
			value = items
		}
		clauses = append(clauses, bson.M{field: bson.M{op: value}})
		if f.Op == live.OpNe {
			// a missing field never matches
			clauses = append(clauses, bson.M{field: bson.M{"$exists": true}})
		}
		if field != "_id" && reflect.ValueOf(f.Value).Kind() != reflect.Slice {
			clauses = append(clauses, bson.M{field: notArray})
		}
	}

	if len(clauses) == 0 {
		return bson.M{}, nil
	}
	return bson.M{"$and": clauses}, nil
}

// compileSort returns the sort document of q; ties are broken by id.
func compileSort(q live.Query) bson.D {
	sort := bson.D{}
	for _, o := range q.Orderings {
		dir := -1
		if o.Ascending {
			dir = 1
		}
		sort = append(sort, bson.E{Key: fieldName(o.Field), Value: dir})
	}
	if len(q.Orderings) == 0 || q.Orderings[len(q.Orderings)-1].Field != live.IDField {
		sort = append(sort, bson.E{Key: "_id", Value: 1})
	}
	return sort
}

func listOf(v interface{}) (bson.A, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, errors.Errorf("expected a list, got %T", v)
	}
	items := make(bson.A, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}

// toRecord converts a decoded document to a record of plain Go values.
func toRecord(doc bson.M) live.Record {
	id, _ := doc["_id"].(string)
	fields := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		fields[k] = plain(v)
	}
	return live.NewRecord(id, fields)
}

// plain converts BSON values: numbers to float64, dates to time.Time, documents to maps and arrays to slices.
func plain(v interface{}) interface{} {
	switch val := v.(type) {
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case bson.M:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = plain(item)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	}
	return v
}
