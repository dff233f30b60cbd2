package entity

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	snapshotNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)
	principalPattern    = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,31}$`)
	gitRefPattern       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]{0,127}$`)

	validateOnce sync.Once
	validate     *validator.Validate
)

// payloadValidator returns the shared validator with the project-specific
// rules registered.
func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()

		// Slugs and permissions are validated through their string forms.
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if s, ok := field.Interface().(Slug); ok {
				return s.String()
			}
			return nil
		}, Slug{})
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if p, ok := field.Interface().(Permission); ok {
				return p.String()
			}
			return nil
		}, PermissionNone)

		mustRegister(v, "slug", func(fl validator.FieldLevel) bool {
			_, err := ParseSlug(fl.Field().String())
			return err == nil
		})
		mustRegister(v, "principal", func(fl validator.FieldLevel) bool {
			s, err := ParseSlug(fl.Field().String())
			return err == nil && principalPattern.MatchString(s.FSName())
		})
		mustRegister(v, "permission", func(fl validator.FieldLevel) bool {
			p, err := ParsePermission(fl.Field().String())
			return err == nil && p.Valid()
		})
		mustRegister(v, "snapshot", func(fl validator.FieldLevel) bool {
			return snapshotNamePattern.MatchString(fl.Field().String())
		})
		mustRegister(v, "gitref", func(fl validator.FieldLevel) bool {
			ref := fl.Field().String()
			return gitRefPattern.MatchString(ref) && !strings.Contains(ref, "..")
		})
		mustRegister(v, "abspath", func(fl validator.FieldLevel) bool {
			p := fl.Field().String()
			return filepath.IsAbs(p) && filepath.Clean(p) == p
		})
		mustRegister(v, "relpath", func(fl validator.FieldLevel) bool {
			return IsRelativePath(fl.Field().String())
		})

		validate = v
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("entity: registering %q validation: %v", tag, err))
	}
}

// IsRelativePath reports whether p names an entry inside a project tree
// without escaping it.
func IsRelativePath(p string) bool {
	if p == "" || filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

// Validate checks a payload struct against its validate tags and returns
// a *ValidationError describing the first violation.
func Validate(payload any) error {
	err := payloadValidator().Struct(payload)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		return &ValidationError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: fmt.Sprintf("%s: field %s fails %q (value %v)", fe.StructNamespace(), fe.Field(), fe.Tag(), fe.Value()),
		}
	}
	return &ValidationError{Message: err.Error()}
}
