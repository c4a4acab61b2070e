// Package environment provides helpers for loading configuration from
// environment variables.
//
// Lookup helpers fall back to a default when a variable is unset or empty.
// Parsing helpers additionally return an error when a variable is set but
// cannot be parsed: a value that is present but malformed is a configuration
// mistake, and silently substituting the default would hide it until much
// later. Required variables return an error rather than calling os.Exit,
// keeping process-exit policy out of library code.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the value of the named environment variable and a boolean
// indicating whether it was set (even if set to the empty string).
func String(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	return v, ok
}

// StringOr returns the value of the named environment variable, or
// defaultValue if the variable is unset or empty.
func StringOr(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the value of the named environment variable or an
// error if it is unset or empty.
func RequiredString(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// BoolOr parses the named environment variable as a boolean. Recognized
// values are the same as strconv.ParseBool ("1", "t", "true", "0", "f",
// "false", etc.). Returns defaultValue when the variable is unset or empty,
// and an error when it is set but unparsable.
func BoolOr(name string, defaultValue bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue, fmt.Errorf("environment variable %q: %q is not a boolean", name, v)
	}
	return b, nil
}

// IntOr parses the named environment variable as a decimal integer. Returns
// defaultValue when the variable is unset or empty, and an error when it is
// set but unparsable.
func IntOr(name string, defaultValue int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, fmt.Errorf("environment variable %q: %q is not an integer", name, v)
	}
	return n, nil
}

// Float64Or parses the named environment variable as a float. Returns
// defaultValue when the variable is unset or empty, and an error when it is
// set but unparsable.
func Float64Or(name string, defaultValue float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue, fmt.Errorf("environment variable %q: %q is not a number", name, v)
	}
	return f, nil
}

// DurationOr parses the named environment variable as a time.Duration.
// Both Go duration syntax ("30s", "5m", "1h") and a bare integer number of
// seconds ("60") are accepted, since several deployment surfaces express
// windows and timeouts as plain seconds. Returns defaultValue when the
// variable is unset or empty, and an error when it is set but unparsable.
func DurationOr(name string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return defaultValue, fmt.Errorf("environment variable %q: %q is not a duration", name, v)
}

// StringSliceOr parses the named environment variable as a comma-separated
// list of strings, trimming whitespace from each element. Returns
// defaultValue if the variable is unset or empty.
func StringSliceOr(name string, defaultValue []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
