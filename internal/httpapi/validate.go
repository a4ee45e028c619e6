package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"salesledger/backend/internal/domain"
)

// amountTags are the validation rules whose failure means a bad number rather
// than a malformed request.
var amountTags = map[string]bool{"gte": true, "gt": true, "lte": true, "lt": true}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// validateRequest runs struct tags and translates the first failure into a
// domain error so the usual status mapping applies.
func (a *API) validateRequest(req any) error {
	err := a.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	fe := verrs[0]
	if amountTags[fe.Tag()] {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, describeFieldError(fe))
}

func describeFieldError(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return field + " must have at least " + fe.Param() + " entry"
		}
		return field + " must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return field + " must be at most " + fe.Param() + " characters"
		}
		return field + " must be at most " + fe.Param()
	case "gte":
		return field + " must be >= " + fe.Param()
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "email":
		return field + " must be a valid email"
	case "numeric":
		return field + " must contain digits only"
	}
	return field + " is invalid"
}

// fieldPath drops the top-level struct name from the namespace, so
// "CreateSaleRequest.items[0].quantity" reads as "items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}
