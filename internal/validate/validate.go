// Package validate holds the shared struct validator.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate is the shared validator instance.
var Validate = validator.New()

// FieldError is one failed rule, shaped for error details.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// Struct validates s and flattens any rule failures.
func Struct(s interface{}) ([]FieldError, error) {
	err := Validate.Struct(s)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Namespace(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return out, nil
}

// Summary renders field errors on one line.
func Summary(errs []FieldError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Param != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", e.Field, e.Rule, e.Param))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", e.Field, e.Rule))
		}
	}
	return strings.Join(parts, "; ")
}
