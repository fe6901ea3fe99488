package config

import "log/slog"

const redacted = "[REDACTED]"

// SecretString keeps sensitive configuration values out of fmt output, JSON
// dumps and structured logs. Use Unmask() at the single point where the raw
// value is handed to a driver.
type SecretString string

func (s SecretString) String() string {
	return redacted
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// Unmask returns the raw value.
func (s SecretString) Unmask() string {
	return string(s)
}
