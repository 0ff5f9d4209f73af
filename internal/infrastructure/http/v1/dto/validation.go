package dto

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"stockflow/internal/domain/packaging"
	"stockflow/internal/domain/returns"
	"stockflow/internal/domain/transport"
)

var registerOnce sync.Once

// RegisterValidators installs the custom binding tags on gin's validator:
// return_reason, disposition, package_status and transport_status.
// Field names in errors follow the json tags.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("return_reason", func(fl validator.FieldLevel) bool {
			return returns.Reason(fl.Field().String()).Validate() == nil
		})
		_ = v.RegisterValidation("disposition", func(fl validator.FieldLevel) bool {
			return returns.Disposition(fl.Field().String()).Validate() == nil
		})
		_ = v.RegisterValidation("package_status", func(fl validator.FieldLevel) bool {
			return packaging.Status(fl.Field().String()).Validate() == nil
		})
		_ = v.RegisterValidation("transport_status", func(fl validator.FieldLevel) bool {
			return transport.Status(fl.Field().String()).Validate() == nil
		})
	})
}

// ValidationDetails flattens validator errors into field -> message.
func ValidationDetails(err error) map[string]any {
	var errs validator.ValidationErrors
	details := map[string]any{}
	if !errors.As(err, &errs) {
		details["error"] = err.Error()
		return details
	}
	fields := map[string]string{}
	for _, fe := range errs {
		fields[fe.Field()] = validationMessage(fe)
	}
	details["fields"] = fields
	return details
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "return_reason":
		return "must be one of defective, damaged, wrong_item, quality_issue, customer_request"
	case "disposition":
		return "must be restocked or damaged"
	case "package_status":
		return "is not a package status"
	case "transport_status":
		return "is not a transport status"
	}
	return "failed on " + fe.Tag()
}
