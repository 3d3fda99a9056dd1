package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"tokenrelay/internal/store"
	"tokenrelay/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks c and returns a *ConfigurationError listing every problem.
func (c Config) Validate() error {
	var errs ValidationErrors

	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		errs.Add("logLevel", "must be one of debug, info, warn, error", c.LogLevel)
	}
	switch logging.Format(c.LogFormat) {
	case logging.FormatText, logging.FormatJSON, "":
	default:
		errs.Add("logFormat", "must be text or json", c.LogFormat)
	}

	switch c.Storage.Backend {
	case store.BackendMemory, store.BackendFile, store.BackendSQLite:
	case store.BackendRedis:
		if c.Storage.Redis.Addr == "" {
			errs.Add("storage.redis.addr", "is required for the redis backend")
		}
	default:
		errs.Add("storage.backend", "must be one of memory, file, sqlite, redis", c.Storage.Backend)
	}

	validateListen(&errs, "proxy.listen", c.Proxy.Listen)
	if c.API.Enabled {
		validateListen(&errs, "api.listen", c.API.Listen)
	}
	if c.Callback.Addr != "" {
		validateListen(&errs, "callback.addr", c.Callback.Addr)
	}

	tokenEndpoints := make(map[string]int)
	for i, r := range c.Resources {
		prefix := fmt.Sprintf("resources[%d]", i)
		validateURL(&errs, prefix+".resourceServer", r.ResourceServer, true)
		validateURL(&errs, prefix+".tokenEndpoint", r.TokenEndpoint, true)
		validateURL(&errs, prefix+".authorizationEndpoint", r.AuthorizationEndpoint, false)
		validateURL(&errs, prefix+".redirectUri", r.RedirectURI, false)

		if r.TokenEndpoint == "" {
			continue
		}
		if first, dup := tokenEndpoints[r.TokenEndpoint]; dup {
			errs.Add(prefix+".tokenEndpoint", fmt.Sprintf("duplicates resources[%d].tokenEndpoint", first), r.TokenEndpoint)
			continue
		}
		tokenEndpoints[r.TokenEndpoint] = i
	}

	if !errs.HasErrors() {
		return nil
	}
	return &ConfigurationError{ErrorType: ErrorTypeValidation, Message: errs.Error(), Fields: errs}
}

func validateListen(errs *ValidationErrors, field, addr string) {
	if addr == "" {
		errs.Add(field, "is required")
		return
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		errs.Add(field, "must be host:port", addr)
	}
}

func validateURL(errs *ValidationErrors, field, raw string, required bool) {
	if raw == "" {
		if required {
			errs.Add(field, "is required")
		}
		return
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.Add(field, "must be an absolute http(s) URL", raw)
	}
}
