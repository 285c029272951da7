package live

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	"github.com/trezcool/masomo-live/core"
)

// Op is a filter operator.
type Op string

// Filter operators
const (
	OpEq            Op = "=="
	OpNe            Op = "!="
	OpLt            Op = "<"
	OpLte           Op = "<="
	OpGt            Op = ">"
	OpGte           Op = ">="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
)

// Ops lists the supported operators.
var Ops = []Op{OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn, OpArrayContains}

const (
	queryKeyDomain = "masomo.live.query.v1\x00"
	refKeyDomain   = "masomo.live.ref.v1\x00"
)

type (
	// Filter keeps the records whose Field compares to Value with Op.
	// For OpIn, Value is a list; for OpArrayContains, Field holds a list.
	Filter struct {
		Field string      `json:"field" validate:"required"`
		Op    Op          `json:"op" validate:"required,filterop"`
		Value interface{} `json:"value"`
	}

	// Query describes the records of a collection to watch.
	// It is a value: the builder methods return modified copies and never touch the receiver.
	Query struct {
		Collection string            `json:"collection" validate:"required,collection"`
		Filters    []Filter          `json:"filters" validate:"dive"`
		Orderings  []core.DBOrdering `json:"orderings"`
		Limit      int               `json:"limit" validate:"gte=0"`
	}

	// Ref addresses a single record.
	Ref struct {
		Collection string `json:"collection" validate:"required,collection"`
		ID         string `json:"id" validate:"required"`
	}
)

func NewQuery(collection string) Query {
	return Query{Collection: collection}
}

func (q Query) clone() Query {
	c := q
	c.Filters = append([]Filter(nil), q.Filters...)
	c.Orderings = append([]core.DBOrdering(nil), q.Orderings...)
	return c
}

// Where returns a copy of q with an additional filter.
func (q Query) Where(field string, op Op, value interface{}) Query {
	c := q.clone()
	c.Filters = append(c.Filters, Filter{Field: field, Op: op, Value: value})
	return c
}

// OrderBy returns a copy of q with an additional ordering.
func (q Query) OrderBy(field string, ascending bool) Query {
	c := q.clone()
	c.Orderings = append(c.Orderings, core.DBOrdering{Field: field, Ascending: ascending})
	return c
}

// WithLimit returns a copy of q returning at most n records (0 means no limit).
func (q Query) WithLimit(n int) Query {
	c := q.clone()
	c.Limit = n
	return c
}

// Key returns the structural identity of q.
// Queries with the same collection, the same set of filters (in any order), the same orderings and limit
// have the same key. Strings are compared in NFC form, numbers by value and times by instant.
func (q Query) Key() string {
	filters := make([]json.RawMessage, 0, len(q.Filters))
	for _, f := range q.Filters {
		filters = append(filters, mustCanonicalJSON([]interface{}{
			norm.NFC.String(f.Field),
			string(f.Op),
			canonicalValue(f.Value),
		}))
	}
	sort.Slice(filters, func(i, j int) bool { return string(filters[i]) < string(filters[j]) })

	orderings := make([][]interface{}, 0, len(q.Orderings))
	for _, o := range q.Orderings {
		orderings = append(orderings, []interface{}{norm.NFC.String(o.Field), o.Ascending})
	}

	return hashKey(queryKeyDomain, mustCanonicalJSON(map[string]interface{}{
		"collection": norm.NFC.String(q.Collection),
		"filters":    filters,
		"orderings":  orderings,
		"limit":      q.Limit,
	}))
}

// Equal reports whether q and other watch the same records.
func (q Query) Equal(other Query) bool {
	return q.Key() == other.Key()
}

func (q Query) String() string {
	b, _ := json.Marshal(q)
	return string(b)
}

func NewRef(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// Path returns "collection/id".
func (r Ref) Path() string {
	return r.Collection + "/" + r.ID
}

// Key returns the identity of r; refs are compared by path.
func (r Ref) Key() string {
	return r.Path()
}

func (r Ref) String() string {
	return r.Path()
}

// hashKey hashes a canonical payload keyed by domain so that keys of different kinds never collide.
func hashKey(domain string, payload []byte) string {
	h, err := blake2b.New256([]byte(domain))
	if err != nil {
		// domains are short constants
		panic(err)
	}
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func mustCanonicalJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v) // map keys are sorted by encoding/json
	if err != nil {
		// canonical values marshal by construction: numbers and times have their own json form
		panic(err)
	}
	return b
}
