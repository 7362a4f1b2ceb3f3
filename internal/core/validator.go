package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"climascope/internal/types"
)

// countyCodePattern matches the 2-digit KNBS county codes used throughout the
// service ("01" through "47", but format only; existence is checked against
// the county repository).
var countyCodePattern = regexp.MustCompile(`^[0-9]{2}$`)

// Validator wraps go-playground/validator with domain-specific tags
// registered at construction:
//
//	county_code - 2-digit KNBS county code format
//	variable    - one of the known weather variables
func NewValidator() (*Validator, error) {
	v := validator.New()

	if err := v.RegisterValidation("county_code", func(fl validator.FieldLevel) bool {
		return countyCodePattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("registering county_code tag: %w", err)
	}

	if err := v.RegisterValidation("variable", func(fl validator.FieldLevel) bool {
		return types.Variable(fl.Field().String()).Valid()
	}); err != nil {
		return nil, fmt.Errorf("registering variable tag: %w", err)
	}

	return &Validator{validate: v}, nil
}

// Validator validates request structs against their `validate` struct tags.
type Validator struct {
	validate *validator.Validate
}

// ValidateStruct validates dst and translates any failure into a
// validation_schema_failed AppError whose details map field names to
// human-readable messages.
func (v *Validator) ValidateStruct(dst interface{}) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = describeFailure(fe)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationSchema,
		"request validation failed",
		err,
		map[string]any{"fields": fields},
	)
}

// fieldPath strips the root struct name from the validator namespace, turning
// "SubmitRequest.CountyID" into "CountyID".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.IndexByte(ns, '.'); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}

// describeFailure renders a terse human-readable message for a single field
// failure.
func describeFailure(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "county_code":
		return "must be a 2-digit county code"
	case "variable":
		return "must be one of: rainfall, temperature, wind"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "url":
		return "must be a valid URL"
	default:
		return "failed rule: " + fe.Tag()
	}
}
