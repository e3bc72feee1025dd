package config

import (
	"encoding/json"
)

// NewSecret returns a Secret holding value.
func NewSecret(value string) Secret {
	return Secret{value: &value}
}

// Secret masks sensitive configuration values, e.g. passwords,
// so they are not exposed by accident when the configuration is logged or printed.
type Secret struct {
	value *string
}

// Secret returns the actual value.
func (s Secret) Secret() string {
	if s.value == nil {
		return ""
	}

	return *s.value
}

func (s Secret) String() string {
	return "******"
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String()) //nolint:wrapcheck // export the underlying error
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err //nolint:wrapcheck // export the underlying error
	}

	s.value = &value

	return nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is used by viper to decode a Secret from any configuration source.
func (s *Secret) UnmarshalText(data []byte) error {
	value := string(data)
	s.value = &value

	return nil
}
