package pgdocs

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core/live"
)

// timeLayout is fixed-width so that stored times sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// typeRank orders values by type first: missing, null, booleans, numbers, strings, then the rest.
const typeRank = "CASE jsonb_typeof(%[1]s) WHEN 'null' THEN 1 WHEN 'boolean' THEN 2 WHEN 'number' THEN 3 WHEN 'string' THEN 4 WHEN 'array' THEN 5 WHEN 'object' THEN 5 ELSE 0 END"

// statement is a parameterised SQL query.
type statement struct {
	sql  strings.Builder
	args []interface{}
}

func (s *statement) write(parts ...string) {
	for _, p := range parts {
		s.sql.WriteString(p)
	}
}

// param adds an argument and returns its placeholder.
func (s *statement) param(v interface{}) string {
	s.args = append(s.args, v)
	return fmt.Sprintf("$%d", len(s.args))
}

// fieldExpr returns the jsonb expression of a dotted field path, or the id column.
func (s *statement) fieldExpr(field string) string {
	if field == live.IDField {
		return "id"
	}
	return "(fields #> " + s.param(pq.Array(strings.Split(field, "."))) + "::text[])"
}

// compileQuery turns q into a SELECT over the documents table.
func compileQuery(q live.Query) (string, []interface{}, error) {
	var s statement
	s.write("SELECT id, fields FROM documents WHERE collection = ", s.param(q.Collection))

	for _, f := range q.Filters {
		cond, err := s.filter(f)
		if err != nil {
			return "", nil, err
		}
		s.write(" AND ", cond)
	}

	s.write(" ORDER BY ")
	for _, o := range q.Orderings {
		dir := " DESC, "
		if o.Ascending {
			dir = " ASC, "
		}
		if o.Field == live.IDField {
			s.write("id", dir)
			continue
		}
		field := s.fieldExpr(o.Field)
		s.write(fmt.Sprintf(typeRank, field), dir, field, dir)
	}
	s.write("id ASC")

	if q.Limit > 0 {
		s.write(" LIMIT ", s.param(q.Limit))
	}
	return s.sql.String(), s.args, nil
}

func (s *statement) filter(f live.Filter) (string, error) {
	if f.Field == live.IDField {
		return s.idFilter(f)
	}

	field := s.fieldExpr(f.Field)
	switch f.Op {
	case live.OpEq, live.OpNe, live.OpLt, live.OpLte, live.OpGt, live.OpGte:
		val, err := jsonText(f.Value)
		if err != nil {
			return "", err
		}
		p := s.param(val)
		op := map[live.Op]string{
			live.OpEq: "=", live.OpNe: "<>", live.OpLt: "<", live.OpLte: "<=", live.OpGt: ">", live.OpGte: ">=",
		}[f.Op]
		if f.Op == live.OpEq || f.Op == live.OpNe {
			return fmt.Sprintf("%s %s %s::jsonb", field, op, p), nil
		}
		// jsonb orders values of different types; only same-type values compare
		return fmt.Sprintf("(jsonb_typeof(%s) = jsonb_typeof(%s::jsonb) AND %s %s %s::jsonb)", field, p, field, op, p), nil

	case live.OpIn:
		items, err := listOf(f.Value)
		if err != nil {
			return "", errors.Wrapf(err, "filter %s in", f.Field)
		}
		texts := make([]string, 0, len(items))
		for _, item := range items {
			t, err := jsonText(item)
			if err != nil {
				return "", err
			}
			texts = append(texts, t)
		}
		return fmt.Sprintf("%s = ANY(%s::jsonb[])", field, s.param(pq.Array(texts))), nil

	case live.OpArrayContains:
		val, err := jsonText(f.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(jsonb_typeof(%s) = 'array' AND %s @> jsonb_build_array(%s::jsonb))", field, field, s.param(val)), nil
	}
	return "", errors.Errorf("unsupported operator %q", f.Op)
}

func (s *statement) idFilter(f live.Filter) (string, error) {
	switch f.Op {
	case live.OpEq, live.OpNe, live.OpLt, live.OpLte, live.OpGt, live.OpGte:
		id, ok := f.Value.(string)
		if !ok {
			return "FALSE", nil
		}
		op := map[live.Op]string{
			live.OpEq: "=", live.OpNe: "<>", live.OpLt: "<", live.OpLte: "<=", live.OpGt: ">", live.OpGte: ">=",
		}[f.Op]
		return fmt.Sprintf("id %s %s", op, s.param(id)), nil
	case live.OpIn:
		items, err := listOf(f.Value)
		if err != nil {
			return "", errors.Wrap(err, "filter id in")
		}
		ids := make([]string, 0, len(items))
		for _, item := range items {
			if id, ok := item.(string); ok {
				ids = append(ids, id)
			}
		}
		return fmt.Sprintf("id = ANY(%s::text[])", s.param(pq.Array(ids))), nil
	}
	return "", errors.Errorf("operator %q is not supported on id", f.Op)
}

func listOf(v interface{}) ([]interface{}, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, errors.Errorf("expected a list, got %T", v)
	}
	items := make([]interface{}, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}

// jsonText encodes v as stored in the fields column.
func jsonText(v interface{}) (string, error) {
	b, err := json.Marshal(toJSON(v))
	if err != nil {
		return "", errors.Wrap(err, "json.Marshal()")
	}
	return string(b), nil
}

// toJSON converts times to their stored form, recursively.
func toJSON(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(timeLayout)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(timeLayout)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = toJSON(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = toJSON(item)
		}
		return out
	}
	return v
}
