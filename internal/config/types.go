package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration read from text such as "30s" or "2m".
// JSON and YAML encode it the same way.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	switch {
	case err != nil:
		return err
	case v < 0:
		return fmt.Errorf("negative duration %q", text)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.Duration().String()), nil }

func (d Duration) Duration() time.Duration { return time.Duration(d) }

const redactedSecret = "[REDACTED]"

// Secret is a credential that never prints. Value is the only way out.
type Secret string

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) String() string {
	if s.IsSet() {
		return redactedSecret
	}
	return ""
}

// GoString covers %#v, which bypasses String.
func (s Secret) GoString() string { return "config.Secret(" + redactedSecret + ")" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
