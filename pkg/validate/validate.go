// Package validate supplies Page.Schema and Page.Validator building
// blocks: a go-playground/validator-backed declarative Schema for
// single-value tag expressions, and composable Rules for imperative
// CustomValidator functions.
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var std = validator.New()

// Schema is a declarative, single-value validator expressed as a
// go-playground/validator tag string (e.g. "required,email",
// "numeric,min=1,max=3"). It implements page.SchemaValidator.
type Schema struct {
	Tag string
}

// NewSchema wraps a validator tag expression.
func NewSchema(tag string) *Schema {
	return &Schema{Tag: tag}
}

// Validate runs value against Tag, joining field errors into one
// message on failure.
func (s *Schema) Validate(value any) error {
	if err := std.Var(value, s.Tag); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Error())
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// Rule is one imperative check over a submitted value.
type Rule func(value any) error

// Rules composes Rule checks; Validate joins every failing rule's
// message with "; ", matching the schema path's joined-message
// convention.
type Rules []Rule

// Validate runs every rule, collecting failures.
func (r Rules) Validate(value any) error {
	var msgs []string
	for _, rule := range r {
		if err := rule(value); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// Required rejects empty strings and nil values.
func Required() Rule {
	return func(value any) error {
		if value == nil {
			return fmt.Errorf("value is required")
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return fmt.Errorf("value is required")
		}
		return nil
	}
}

// OneOf rejects string values not present in options.
func OneOf(options ...string) Rule {
	return func(value any) error {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("value must be a string")
		}
		for _, opt := range options {
			if s == opt {
				return nil
			}
		}
		return fmt.Errorf("value must be one of %s", strings.Join(options, ", "))
	}
}

// MaxLength rejects strings longer than n runes.
func MaxLength(n int) Rule {
	return func(value any) error {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("value must be a string")
		}
		if len([]rune(s)) > n {
			return fmt.Errorf("value must be at most %d characters", n)
		}
		return nil
	}
}
