package rental

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/warp/rent-billing/generic"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// validatorInstance validates command structs. Money is compared as a
// number and Date as its YYYY-MM-DD string, so tags like gt=0 and
// required work on them.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if m, ok := field.Interface().(generic.Money); ok {
				return m.Float64()
			}
			return nil
		}, generic.Money{})
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(generic.Date); ok && !d.IsZero() {
				return d.String()
			}
			return ""
		}, generic.Date{})
		validate = v
	})
	return validate
}

// validateStruct maps validator failures to *ValidationError.
func validateStruct(s any) error {
	err := validatorInstance().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
		for _, fe := range verrs {
			out.Fields = append(out.Fields, FieldError{
				Field: fe.Field(),
				Rule:  fe.Tag(),
				Param: fe.Param(),
			})
		}
		return out
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}
