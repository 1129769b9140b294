package printing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/printdesk/internal/common"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("pagerange", func(fl validator.FieldLevel) bool {
			return ValidPageRange(fl.Field().String())
		})
	})
	return validate
}

// Validate checks every field of o. The returned error is a ValidationError whose
// details map field names to the failed rule.
func Validate(o Options) error {
	err := instance().Struct(o)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return common.ValidationError("invalid print options", nil)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[jsonName(fe.Field())] = describe(fe)
	}
	return common.ValidationError("invalid print options", fields)
}

// ValidPageRange accepts "all" (or empty) and comma separated page numbers or ascending ranges such as "1-3,5".
func ValidPageRange(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.EqualFold(trimmed, "all") {
		return true
	}
	for _, part := range strings.Split(trimmed, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || first < 1 {
			return false
		}
		if !isRange {
			continue
		}
		last, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil || last < first {
			return false
		}
	}
	return true
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min", "max":
		return fmt.Sprintf("must be between %d and %d", MinCopies, MaxCopies)
	case "pagerange":
		return "must be 'all' or a list such as 1-3,5"
	case "required":
		return "is required"
	default:
		return fe.Tag()
	}
}
