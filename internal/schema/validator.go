// Package schema validates outbound events before they are published.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"dialogflow-intent-stream/internal/models"
)

// ErrInvalidEvent wraps every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// Validator checks events against the validate tags on the models types.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate checks required fields and value ranges of a known event type.
// Both values and pointers are accepted.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.TranscriptEvent, models.IntentEvent:
	case *models.TranscriptEvent:
		if ev == nil {
			return fmt.Errorf("%w: nil %T", ErrInvalidEvent, event)
		}
	case *models.IntentEvent:
		if ev == nil {
			return fmt.Errorf("%w: nil %T", ErrInvalidEvent, event)
		}
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}

	err := v.validate.Struct(event)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %s", ErrInvalidEvent, describe(fieldErrs))
	}
	return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
}

func describe(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
