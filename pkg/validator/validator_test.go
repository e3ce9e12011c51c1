package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type registerPayload struct {
	FirstName string `json:"first_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := registerPayload{
		FirstName: "Ana",
		Email:     "ana@x.com",
		Password:  "Secret123",
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := registerPayload{
		FirstName: "",
		Email:     "not-an-email",
		Password:  "short",
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundEmail := false
	for _, v := range vErrs {
		if v.Field == "email" {
			foundEmail = true
		}
	}

	if !foundEmail {
		t.Fatal("expected email field to be present in validation errors")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("ascii_name", func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			if r > 127 {
				return false
			}
		}
		return true
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"ascii_name"`
	}

	if err := ValidateStruct(custom{Value: "plain"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "نام"}); err == nil {
		t.Fatal("expected validation to fail for non-ascii value")
	}
}
