package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"grocerp/backend/internal/store"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// numeric tags (gt, gte) compare decimals as float64
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check runs struct validation and reports the first failing field as an
// ErrInvalidTransaction.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		f := fieldErrs[0]
		field := f.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		if f.Param() != "" {
			return fmt.Errorf("%w: %s must satisfy %s=%s", store.ErrInvalidTransaction, field, f.Tag(), f.Param())
		}
		return fmt.Errorf("%w: %s must satisfy %s", store.ErrInvalidTransaction, field, f.Tag())
	}
	return fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
}
