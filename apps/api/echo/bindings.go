package echoapi

import (
	"encoding/json"
	"strconv"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/live"
)

const (
	orderingParam = "ordering"
	whereParam    = "where"
	limitParam    = "limit"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	if val := ctx.QueryParam(orderingParam); val != "" {
		ord.Orderings = core.ParseOrdering(val)
	}
}

// bindQuery builds the query on collection from the `where`, `ordering` and `limit` params.
// A where param reads `field:op:value`; value is JSON when it parses as such, a plain string otherwise.
func bindQuery(ctx echo.Context, collection string, validate *validator.Validate, translator ut.Translator) (live.Query, error) {
	q := live.NewQuery(collection)

	for i, where := range ctx.QueryParams()[whereParam] {
		parts := strings.SplitN(where, ":", 3)
		if len(parts) != 3 {
			return live.Query{}, core.NewValidationError(nil, core.FieldError{
				Field: "where[" + strconv.Itoa(i) + "]",
				Error: "must read field:op:value",
			})
		}
		op := live.Op(parts[1])
		q = q.Where(parts[0], op, parseValue(op, parts[2]))
	}

	var ord Ordering
	ord.Bind(ctx)
	for _, o := range ord.Orderings {
		q = q.OrderBy(o.Field, o.Ascending)
	}

	if val := ctx.QueryParam(limitParam); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return live.Query{}, core.NewValidationError(nil, core.FieldError{Field: limitParam, Error: "must be a number"})
		}
		q = q.WithLimit(n)
	}

	if err := validate.Struct(q); err != nil {
		return live.Query{}, core.TranslateValidationErrors(err, translator)
	}
	return q, nil
}

func parseValue(op live.Op, raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	if op == live.OpIn {
		items := make([]interface{}, 0)
		for _, item := range strings.Split(raw, ",") {
			items = append(items, strings.TrimSpace(item))
		}
		return items
	}
	return raw
}

func bindRef(ctx echo.Context, validate *validator.Validate, translator ut.Translator) (live.Ref, error) {
	ref := live.NewRef(ctx.Param("collection"), ctx.Param("id"))
	if err := validate.Struct(ref); err != nil {
		return live.Ref{}, core.TranslateValidationErrors(err, translator)
	}
	return ref, nil
}

// decodeBody fills v from the JSON request body.
func decodeBody(ctx echo.Context) func(v interface{}) error {
	return func(v interface{}) error {
		if err := json.NewDecoder(ctx.Request().Body).Decode(v); err != nil {
			return errors.Wrap(err, "decoding body")
		}
		return nil
	}
}
