package session

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// LoginCredentials is the login payload
type LoginCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// MFACode is optional
	MFACode string `json:"mfa_code,omitempty"`
}

// Validate will run validation rules
func (c LoginCredentials) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(
			&c.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&c.Password,
			validation.Required,
		),
		validation.Field(
			&c.MFACode,
			validation.Length(4, 12),
			is.Digit,
		),
	)
	return invalidCredentials(err)
}

// RegistrationData is the registration payload
type RegistrationData struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	TenantID        string `json:"tenant_id,omitempty"`
}

// Validate will validate the payload
func (r RegistrationData) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(stringEquals(r.Password)),
		),
	)
	return invalidCredentials(err)
}

func stringEquals(expected string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != expected {
			return errors.New("values must match")
		}
		return nil
	}
}

func invalidCredentials(err error) error {
	if err == nil {
		return nil
	}
	return withSource(ErrInvalidCredentials, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
