package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// taskFields holds the trimmed text fields of a create or update. The
// length limits mirror models.TitleMaxLength and DescriptionMaxLength and
// are counted in runes.
type taskFields struct {
	Title       string `json:"title" validate:"required,max=60"`
	Description string `json:"description" validate:"required,max=1000"`
	Priority    string `json:"priority" validate:"oneof=low medium high"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// checkFields validates every field, or only the named struct fields when
// some are given. The first failure becomes a ValidationError.
func checkFields(fields taskFields, only ...string) error {
	var err error
	if len(only) > 0 {
		err = validate.StructPartial(fields, only...)
	} else {
		err = validate.Struct(fields)
	}
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]
	return invalid(fe.Field(), reasonFor(fe))
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}
