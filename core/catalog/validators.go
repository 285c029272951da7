package catalog

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-live/core"
)

var (
	subjectTag  = "subject"
	subjectText = "unknown subject"

	levelTag  = "level"
	levelText = "unknown level"
)

// InitValidators registers the catalog validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(subjectTag, func(fl validator.FieldLevel) bool {
		return IsSubject(fl.Field().String())
	})
	core.RegisterCustomTranslation(validate, translator, subjectTag, subjectText)

	_ = validate.RegisterValidation(levelTag, func(fl validator.FieldLevel) bool {
		return IsLevel(fl.Field().String())
	})
	core.RegisterCustomTranslation(validate, translator, levelTag, levelText)
}
