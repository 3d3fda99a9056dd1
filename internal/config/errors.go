package config

import (
	"fmt"
	"strings"
)

// Error types of a ConfigurationError.
const (
	ErrorTypeIO         = "io"
	ErrorTypeParse      = "parse"
	ErrorTypeValidation = "validation"
)

// ConfigurationError is returned when configuration cannot be read, parsed or validated.
type ConfigurationError struct {
	FilePath  string           `json:"filePath,omitempty"`
	ErrorType string           `json:"errorType"`
	Message   string           `json:"message"`
	Fields    ValidationErrors `json:"fields,omitempty"`
}

// Error implements the error interface
func (ce *ConfigurationError) Error() string {
	prefix := "configuration"
	if ce.FilePath != "" {
		prefix = ce.FilePath
	}
	return fmt.Sprintf("%s: %s error: %s", prefix, ce.ErrorType, ce.Message)
}

// Unwrap exposes the field errors.
func (ce *ConfigurationError) Unwrap() error {
	if len(ce.Fields) == 0 {
		return nil
	}
	return ce.Fields
}

// DetailedError returns a multi-line report listing every field error.
func (ce *ConfigurationError) DetailedError() string {
	var parts []string
	parts = append(parts, "Configuration Error")
	if ce.FilePath != "" {
		parts = append(parts, fmt.Sprintf("  File: %s", ce.FilePath))
	}
	parts = append(parts, fmt.Sprintf("  Type: %s", ce.ErrorType))
	if len(ce.Fields) == 0 {
		parts = append(parts, fmt.Sprintf("  Error: %s", ce.Message))
	}
	for _, f := range ce.Fields {
		parts = append(parts, fmt.Sprintf("    - %s", f.Error()))
	}
	return strings.Join(parts, "\n")
}
