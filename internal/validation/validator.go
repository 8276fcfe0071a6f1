// Package validation checks request structs with go-playground/validator and
// reports failures as field/message pairs keyed by JSON name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error collects every failed rule of one struct.
type Error struct {
	Details []FieldError
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Details))
	for i, d := range e.Details {
		msgs[i] = d.Field + ": " + d.Message
	}
	return strings.Join(msgs, "; ")
}

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonName)
	})
	return validate
}

// Struct validates s. It returns nil or a *Error.
func Struct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Details: []FieldError{{Field: "unknown", Message: err.Error()}}}
	}
	details := make([]FieldError, len(fieldErrs))
	for i, fe := range fieldErrs {
		details[i] = FieldError{Field: fe.Field(), Message: translate(fe)}
	}
	return &Error{Details: details}
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

var messages = map[string]string{
	"required": "%s is required",
	"email":    "Invalid email format",
	"uuid":     "Invalid %s",
}

func translate(fe validator.FieldError) string {
	label := humanize(fe.Field())
	if tmpl, ok := messages[fe.Tag()]; ok {
		if strings.Contains(tmpl, "%s") {
			return fmt.Sprintf(tmpl, label)
		}
		return tmpl
	}
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", label, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", label, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", label, fe.Tag())
}

// humanize turns "newPassword" into "New password".
func humanize(field string) string {
	if field == "" {
		return field
	}
	var b strings.Builder
	for i, r := range field {
		switch {
		case i == 0:
			b.WriteString(strings.ToUpper(string(r)))
		case r >= 'A' && r <= 'Z':
			b.WriteByte(' ')
			b.WriteString(strings.ToLower(string(r)))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
