package live

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

type (
	// number is the canonical form of a numeric value: an exact rational ("3", "-1/8"),
	// or one of "NaN", "+Inf", "-Inf".
	number string

	// instant is the canonical form of a time: RFC 3339 in UTC with fixed nanosecond width.
	instant string
)

const (
	numNaN    number = "NaN"
	numPosInf number = "+Inf"
	numNegInf number = "-Inf"

	instantLayout = "2006-01-02T15:04:05.000000000Z"
)

func (n number) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"$num": string(n)})
}

func (t instant) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"$time": string(t)})
}

// class orders the kinds of numbers: -Inf, finite, +Inf, then NaN like postgres does.
func (n number) class() int {
	switch n {
	case numNegInf:
		return 0
	case numPosInf:
		return 2
	case numNaN:
		return 3
	}
	return 1
}

func (n number) compare(other number) int {
	ca, cb := n.class(), other.class()
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	if ca != 1 {
		return 0
	}
	ra, okA := new(big.Rat).SetString(string(n))
	rb, okB := new(big.Rat).SetString(string(other))
	if !okA || !okB {
		return strings.Compare(string(n), string(other))
	}
	return ra.Cmp(rb)
}

func ratNumber(r *big.Rat) number {
	return number(r.RatString())
}

func floatNumber(f float64) number {
	switch {
	case math.IsNaN(f):
		return numNaN
	case math.IsInf(f, 1):
		return numPosInf
	case math.IsInf(f, -1):
		return numNegInf
	}
	return ratNumber(new(big.Rat).SetFloat64(f))
}

// toNumber converts any go number exactly.
func toNumber(v interface{}) (number, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ratNumber(new(big.Rat).SetInt64(rv.Int())), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return ratNumber(new(big.Rat).SetInt(new(big.Int).SetUint64(rv.Uint()))), true
	case reflect.Float32, reflect.Float64:
		return floatNumber(rv.Float()), true
	}
	return "", false
}

// canonicalValue normalises v into values with a single representation per meaning:
// NFC strings, exact numbers (1 == 1.0 == uint8(1)) and UTC instants.
func canonicalValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return norm.NFC.String(val)
	case bool:
		return val
	case time.Time:
		return instant(val.UTC().Format(instantLayout))
	case json.Number:
		if r, ok := new(big.Rat).SetString(val.String()); ok {
			return ratNumber(r)
		}
		return norm.NFC.String(val.String())
	case *big.Int:
		if val == nil {
			return nil
		}
		return ratNumber(new(big.Rat).SetInt(val))
	case *big.Rat:
		if val == nil {
			return nil
		}
		return ratNumber(val)
	}

	if n, ok := toNumber(v); ok {
		return n
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return canonicalValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		list := make([]interface{}, rv.Len())
		for i := range list {
			list[i] = canonicalValue(rv.Index(i).Interface())
		}
		return list
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		m := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[norm.NFC.String(fmt.Sprint(iter.Key().Interface()))] = canonicalValue(iter.Value().Interface())
		}
		return m
	case reflect.String:
		return norm.NFC.String(rv.String())
	case reflect.Bool:
		return rv.Bool()
	}
	// unknown types are keyed by their json form, numbers kept exact
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return canonicalValue(out)
}
