package models

import "fmt"

// AuthSourceType names a credential vault implementation.
type AuthSourceType string

const AuthSourceBitwarden AuthSourceType = "bitwarden"

// AuthSource is a configured credential vault.
type AuthSource struct {
	Name     string             `json:"name" yaml:"name"`
	Type     AuthSourceType     `json:"auth_type" yaml:"auth_type"`
	Settings AuthSourceSettings `json:"settings" yaml:"settings"`
}

// AuthSourceSettings holds the vault CLI location; both fields are optional.
type AuthSourceSettings struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	Cmd  string `json:"cmd,omitempty" yaml:"cmd,omitempty"`
}

func (s *AuthSource) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("auth source name is required")
	}
	switch s.Type {
	case AuthSourceBitwarden:
		return nil
	default:
		return fmt.Errorf("auth source %q: bad auth type %q", s.Name, s.Type)
	}
}
