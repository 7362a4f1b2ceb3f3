package core

import (
	"errors"
	"testing"

	"climascope/internal/types"
)

type submitFixture struct {
	CountyID string `validate:"required,county_code"`
	Variable string `validate:"omitempty,variable"`
}

func TestValidator_ValidStruct(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator returned error: %v", err)
	}

	if err := v.ValidateStruct(submitFixture{CountyID: "32", Variable: "rainfall"}); err != nil {
		t.Errorf("expected valid struct, got %v", err)
	}
}

func TestValidator_CountyCodeFormat(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator returned error: %v", err)
	}

	for _, bad := range []string{"3", "032", "ab", ""} {
		err := v.ValidateStruct(submitFixture{CountyID: bad})
		if err == nil {
			t.Errorf("county code %q accepted, want rejection", bad)
			continue
		}

		var appErr *types.AppError
		if !errors.As(err, &appErr) {
			t.Fatalf("expected *types.AppError, got %T", err)
		}
		if appErr.Code != types.ErrCodeValidationSchema {
			t.Errorf("code = %q, want validation_schema_failed", appErr.Code)
		}
	}
}

func TestValidator_VariableTag(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator returned error: %v", err)
	}

	if err := v.ValidateStruct(submitFixture{CountyID: "01", Variable: "humidity"}); err == nil {
		t.Error("unknown variable accepted, want rejection")
	}
}

func TestValidator_FieldPathsInDetails(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator returned error: %v", err)
	}

	verr := v.ValidateStruct(submitFixture{})
	var appErr *types.AppError
	if !errors.As(verr, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", verr)
	}

	fields, ok := appErr.Details["fields"].(map[string]any)
	if !ok {
		t.Fatalf("expected fields map in details, got %T", appErr.Details["fields"])
	}
	if _, ok := fields["CountyID"]; !ok {
		t.Errorf("expected CountyID in field errors, got %v", fields)
	}
}
