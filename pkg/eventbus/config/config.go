package config

import (
	"time"
)

// Config is a weakly typed view over one level of a parsed config file.
// Accessors coerce the yaml/json value at a key and fall back to the given
// default when the key is absent or the value has the wrong shape, so a
// partial file never fails to load: unset knobs simply keep their defaults.
type Config struct {
	values map[string]any
}

// New wraps a decoded map. A nil map behaves as an empty file.
func New(values map[string]any) Config {
	if values == nil {
		values = map[string]any{}
	}
	return Config{values: values}
}

// Section descends into the nested map at key, for grouped settings such as
// the broker or rate_limit blocks. Anything other than a map yields an
// empty section.
func (c Config) Section(key string) Config {
	if m, ok := c.values[key].(map[string]any); ok {
		return New(m)
	}
	return New(nil)
}

// String returns the string at key.
func (c Config) String(key, fallback string) string {
	if s, ok := c.values[key].(string); ok {
		return s
	}
	return fallback
}

// Bool returns the bool at key.
func (c Config) Bool(key string, fallback bool) bool {
	if b, ok := c.values[key].(bool); ok {
		return b
	}
	return fallback
}

// Int returns the integer at key. json decodes every number as float64, so
// integral floats convert; fractional values fall back.
func (c Config) Int(key string, fallback int) int {
	switch n := c.values[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n == float64(int(n)) {
			return int(n)
		}
	}
	return fallback
}

// Duration returns the duration at key. Strings go through
// time.ParseDuration ("250ms", "30s"); bare numbers are taken as seconds,
// which is how the window and recovery knobs usually read in a yaml file.
func (c Config) Duration(key string, fallback time.Duration) time.Duration {
	switch v := c.values[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case time.Duration:
		return v
	}
	return fallback
}

// StringSlice returns the string list at key, used for broker address
// lists. A list with any non-string element falls back whole.
func (c Config) StringSlice(key string, fallback []string) []string {
	switch v := c.values[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fallback
			}
			out = append(out, s)
		}
		return out
	}
	return fallback
}
