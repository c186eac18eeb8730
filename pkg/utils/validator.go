package utils

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	countryCode  = regexp.MustCompile(`^[A-Z]{2}$`)
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("country", func(fl validator.FieldLevel) bool {
			return countryCode.MatchString(fl.Field().String())
		})
	})
	return validate
}

// FieldErrors maps a struct field path to the failed validation tag
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s failed %q", k, f[k])
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}

// ValidateStruct checks validate tags on s. Field failures are returned as
// FieldErrors.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	fields := make(FieldErrors, len(validationErrors))
	for _, ve := range validationErrors {
		fields[fieldPath(ve.Namespace())] = ve.Tag()
	}
	return fields
}

// fieldPath drops the root struct name from a validator namespace
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// SanitizeString removes control characters
func SanitizeString(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}
