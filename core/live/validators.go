package live

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-live/core"
)

var (
	filterOpTag  = "filterop"
	filterOpText = "unsupported operator"

	collectionTag   = "collection"
	collectionText  = "invalid collection name"
	collectionRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)
)

// InitValidators registers the validation tags of live descriptors.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(filterOpTag, filterOpValidation)
	core.RegisterCustomTranslation(validate, translator, filterOpTag, filterOpText)

	_ = validate.RegisterValidation(collectionTag, collectionValidation)
	core.RegisterCustomTranslation(validate, translator, collectionTag, collectionText)
}

func filterOpValidation(fl validator.FieldLevel) bool {
	op := Op(fl.Field().String())
	for _, known := range Ops {
		if op == known {
			return true
		}
	}
	return false
}

// collectionValidation allows identifier-like names, usable as mongo collections and in sql literals.
func collectionValidation(fl validator.FieldLevel) bool {
	return collectionRegex.MatchString(fl.Field().String())
}
