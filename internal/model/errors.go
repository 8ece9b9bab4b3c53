package model

import (
	"fmt"
	"strings"
)

type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConfigurationError reports a missing or invalid peer configuration. It is
// detected before any command is dispatched.
type ConfigurationError struct {
	Errors []FieldError
}

func (ce *ConfigurationError) Add(field, message string) {
	ce.Errors = append(ce.Errors, FieldError{Field: field, Message: message})
}

func (ce *ConfigurationError) HasErrors() bool {
	return len(ce.Errors) > 0
}

func (ce *ConfigurationError) Error() string {
	msgs := make([]string, 0, len(ce.Errors))
	for _, e := range ce.Errors {
		msgs = append(msgs, e.Error())
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
