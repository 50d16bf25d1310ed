// Package validator checks the structure of client events before they reach
// the correlation engine.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/timestamp"
)

// ValidationError describes which fields of a client event were rejected.
type ValidationError struct {
	Details map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Details))
	for field, status := range e.Details {
		fields = append(fields, field+"="+status)
	}
	return fmt.Sprintf("invalid event structure: %s", strings.Join(fields, ", "))
}

// Validator validates ClientEvent payloads against the configured action set.
type Validator struct {
	validate *validator.Validate
	actions  map[string]struct{}
}

// New creates a Validator accepting only the given action codes.
func New(validActions []string) *Validator {
	actions := make(map[string]struct{}, len(validActions))
	for _, a := range validActions {
		actions[a] = struct{}{}
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("action", func(fl validator.FieldLevel) bool {
		_, ok := actions[fl.Field().String()]
		return ok
	})
	v.RegisterValidation("client_timestamp", func(fl validator.FieldLevel) bool {
		return timestamp.Valid(fl.Field().String())
	})

	return &Validator{validate: v, actions: actions}
}

// Validate returns a *ValidationError when the event is not acceptable.
func (v *Validator) Validate(event *models.ClientEvent) error {
	if event == nil {
		return &ValidationError{Details: map[string]string{"body": "MISSING"}}
	}

	err := v.validate.Struct(event)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate event: %w", err)
	}

	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			details[field] = "MISSING"
		case "action":
			details[field] = "INVALID"
			details["action_valid"] = "NO"
		case "client_timestamp":
			details[field] = "INVALID_FORMAT"
		default:
			details[field] = "INVALID"
		}
	}
	return &ValidationError{Details: details}
}

// Allows reports whether an action code is accepted.
func (v *Validator) Allows(action string) bool {
	_, ok := v.actions[action]
	return ok
}
