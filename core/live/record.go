package live

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// IDField is the pseudo-field holding the record identifier.
const IDField = "id"

// Record is a document: an identifier plus a mapping of fields.
type Record struct {
	ID     string
	Fields map[string]interface{}
}

func NewRecord(id string, fields map[string]interface{}) Record {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	return Record{ID: id, Fields: fields}
}

// Field returns the value at the dotted path, eg. "profile.city". The "id" path is the identifier.
func (r Record) Field(path string) (interface{}, bool) {
	if path == IDField {
		return r.ID, true
	}
	var cur interface{} = r.Fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a deep copy of r: nested maps and lists are copied, []string becomes []interface{}.
func (r Record) Clone() Record {
	return Record{ID: r.ID, Fields: cloneFields(r.Fields)}
}

func cloneFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneFields(val)
	case []interface{}:
		list := make([]interface{}, len(val))
		for i, item := range val {
			list[i] = cloneValue(item)
		}
		return list
	case []string:
		list := make([]interface{}, len(val))
		for i, item := range val {
			list[i] = item
		}
		return list
	}
	return v
}

// MarshalJSON flattens the fields and adds the identifier under "id".
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.Fields)+1)
	for k, v := range r.Fields {
		m[k] = v
	}
	m[IDField] = r.ID
	return json.Marshal(m)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "json.Unmarshal()")
	}
	r.ID = ""
	if id, ok := m[IDField].(string); ok {
		r.ID = id
	}
	delete(m, IDField)
	if m == nil {
		m = make(map[string]interface{})
	}
	r.Fields = m
	return nil
}
