package types

import "log/slog"

// redactedPlaceholder is the string used to replace secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

// SecretString holds a sensitive configuration value (database DSN, API
// tokens). Every rendering path (fmt, JSON, slog) yields a redacted
// placeholder; Unmask returns the plaintext.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON keeps secrets out of JSON-serialized config dumps.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// LogValue implements slog.LogValuer so structured log attributes are redacted
// even when the value is passed directly as an attribute.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// IsSet reports whether a non-empty value was provided.
func (s SecretString) IsSet() bool {
	return s != ""
}

// Unmask returns the raw plaintext value of the secret. Only pass the result
// directly to the consumer that needs it (e.g. the database driver).
func (s SecretString) Unmask() string {
	return string(s)
}
