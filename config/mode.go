package config

import (
	"strings"

	"github.com/pkg/errors"
)

// SecurityMode selects how a channel or listener is secured. It is chosen once per process and
// never changes afterwards.
type SecurityMode int

const (
	// securityModeUnset is the zero value and never valid.
	securityModeUnset SecurityMode = iota
	// Insecure uses plaintext connections.
	Insecure
	// TransportSecure uses TLS where only the server presents a certificate.
	TransportSecure
	// TransportSecureWithToken is TransportSecure plus a bearer token attached to every call.
	TransportSecureWithToken
	// MutualTransportSecure uses TLS where both endpoints present and verify certificates.
	MutualTransportSecure
)

// SecurityModes lists every recognized mode.
var SecurityModes = []SecurityMode{Insecure, TransportSecure, TransportSecureWithToken, MutualTransportSecure}

var securityModeNames = map[SecurityMode]string{
	Insecure:                 "insecure",
	TransportSecure:          "tls",
	TransportSecureWithToken: "jwt",
	MutualTransportSecure:    "mtls",
}

// ParseSecurityMode parses one of "insecure", "tls", "jwt" or "mtls".
func ParseSecurityMode(s string) (SecurityMode, error) {
	for mode, name := range securityModeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return mode, nil
		}
	}
	return securityModeUnset, errors.Errorf("unknown security mode %q, expected one of %s", s, knownModes())
}

func knownModes() string {
	names := make([]string, 0, len(SecurityModes))
	for _, mode := range SecurityModes {
		names = append(names, mode.String())
	}
	return strings.Join(names, ", ")
}

func (m SecurityMode) String() string {
	if name, ok := securityModeNames[m]; ok {
		return name
	}
	return "unknown"
}

// Validate returns an error unless m is one of the four recognized modes.
func (m SecurityMode) Validate() error {
	if _, ok := securityModeNames[m]; !ok {
		return errors.Errorf("unknown security mode %d, expected one of %s", int(m), knownModes())
	}
	return nil
}

// IsTransportSecure returns whether connections are made over TLS.
func (m SecurityMode) IsTransportSecure() bool {
	return m == TransportSecure || m == TransportSecureWithToken || m == MutualTransportSecure
}

// UsesToken returns whether a bearer token accompanies each call.
func (m SecurityMode) UsesToken() bool {
	return m == TransportSecureWithToken
}

// MarshalText implements encoding.TextMarshaler.
func (m SecurityMode) MarshalText() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *SecurityMode) UnmarshalText(text []byte) error {
	mode, err := ParseSecurityMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Role is the side of a connection a credential is built for.
type Role int

const (
	// ClientRole dials.
	ClientRole Role = iota
	// ServerRole listens.
	ServerRole
)

func (r Role) String() string {
	if r == ServerRole {
		return "server"
	}
	return "client"
}
