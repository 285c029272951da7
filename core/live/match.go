package live

import (
	"reflect"
	"sort"
	"strings"
)

// type ranks, used to order values of different types
const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankTime
	rankOther
)

// Match reports whether r satisfies every filter of q. The collection is not checked.
// A filter on a missing field never matches.
func Match(r Record, q Query) bool {
	for _, f := range q.Filters {
		if !matchFilter(r, f) {
			return false
		}
	}
	return true
}

func matchFilter(r Record, f Filter) bool {
	val, ok := r.Field(f.Field)
	if !ok {
		return false
	}

	switch f.Op {
	case OpEq:
		return equalValues(val, f.Value)
	case OpNe:
		return !equalValues(val, f.Value)
	case OpLt, OpLte, OpGt, OpGte:
		c, ok := compareValues(val, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpLt:
			return c < 0
		case OpLte:
			return c <= 0
		case OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case OpIn:
		return containsValue(f.Value, val)
	case OpArrayContains:
		return containsValue(val, f.Value)
	}
	return false
}

// Apply filters, sorts and limits records the way a store answers q.
// The input slice is not modified.
func Apply(records []Record, q Query) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if Match(r, q) {
			out = append(out, r)
		}
	}
	Sort(out, q)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Sort orders records by the orderings of q, then by id. Missing fields sort first.
func Sort(records []Record, q Query) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, o := range q.Orderings {
			a, _ := records[i].Field(o.Field)
			b, _ := records[j].Field(o.Field)
			c := orderValues(a, b)
			if c == 0 {
				continue
			}
			if o.Ascending {
				return c < 0
			}
			return c > 0
		}
		return records[i].ID < records[j].ID
	})
}

func equalValues(a, b interface{}) bool {
	return reflect.DeepEqual(canonicalValue(a), canonicalValue(b))
}

// compareValues compares values of the same kind; ok is false when they cannot be compared.
func compareValues(a, b interface{}) (int, bool) {
	ca, cb := canonicalValue(a), canonicalValue(b)
	ra, rb := rank(ca), rank(cb)
	if ra != rb || ra == rankNull || ra == rankOther {
		return 0, false
	}
	return orderValues(a, b), true
}

// orderValues totally orders any two values: by type rank, then by value.
func orderValues(a, b interface{}) int {
	ca, cb := canonicalValue(a), canonicalValue(b)
	ra, rb := rank(ca), rank(cb)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case rankBool:
		ba, bb := ca.(bool), cb.(bool)
		if ba == bb {
			return 0
		} else if !ba {
			return -1
		}
		return 1
	case rankNumber:
		return ca.(number).compare(cb.(number))
	case rankString:
		return strings.Compare(ca.(string), cb.(string))
	case rankTime:
		return strings.Compare(string(ca.(instant)), string(cb.(instant)))
	}
	return 0
}

func rank(canonical interface{}) int {
	switch canonical.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case number:
		return rankNumber
	case string:
		return rankString
	case instant:
		return rankTime
	}
	return rankOther
}

// containsValue reports whether list holds an element equal to v.
func containsValue(list interface{}, v interface{}) bool {
	items, ok := canonicalValue(list).([]interface{})
	if !ok {
		return false
	}
	cv := canonicalValue(v)
	for _, item := range items {
		if reflect.DeepEqual(item, cv) {
			return true
		}
	}
	return false
}
