package tokens

import (
	"encoding/json"
	"os"

	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwk"
	"github.com/pkg/errors"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/config"
)

const secretRedacted = "[REDACTED]"

// Secret is the shared HMAC key. It never prints its value.
type Secret []byte

func (s Secret) String() string { return secretRedacted }

// GoString keeps %#v from leaking the key.
func (s Secret) GoString() string { return secretRedacted }

// IsEmpty returns whether no key material is present.
func (s Secret) IsEmpty() bool { return len(s) == 0 }

// ErrEmptySecret is returned when an issuer or verifier is built without a signing secret.
var ErrEmptySecret = config.NewConfigurationError(config.EnvSigningSecret, errors.New("signing secret must not be empty"))

// LoadSigningSecret returns the secret configured in tc, either given literally or as a
// symmetric JWK stored in a file.
func LoadSigningSecret(tc *config.TokenConfig) (Secret, error) {
	if tc.SigningSecret != "" && tc.SigningKeyFile != "" {
		return nil, config.NewConfigurationError(config.EnvSigningKeyFile,
			errors.Errorf("cannot be combined with %s", config.EnvSigningSecret))
	}
	if tc.SigningSecret != "" {
		return Secret(tc.SigningSecret), nil
	}
	if tc.SigningKeyFile == "" {
		return nil, ErrEmptySecret
	}
	//nolint:gosec
	data, err := os.ReadFile(tc.SigningKeyFile)
	if err != nil {
		return nil, config.NewConfigurationError(config.EnvSigningKeyFile, errors.Wrap(err, "cannot read signing key"))
	}
	secret, err := SecretFromJWK(data)
	if err != nil {
		return nil, config.NewConfigurationError(config.EnvSigningKeyFile, err)
	}
	return secret, nil
}

// SecretFromJWK extracts the key bytes of a JSON Web Key of type "oct".
func SecretFromJWK(data []byte) (Secret, error) {
	key, err := jwk.ParseKey(data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid JWK")
	}
	if key.KeyType() != jwa.OctetSeq {
		return nil, errors.Errorf("expected a %q key but got %q", jwa.OctetSeq, key.KeyType())
	}
	var raw []byte
	if err := key.Raw(&raw); err != nil {
		return nil, errors.Wrap(err, "cannot read symmetric key")
	}
	if len(raw) == 0 {
		return nil, ErrEmptySecret
	}
	return Secret(raw), nil
}

// MarshalJWK encodes secret as an "oct" JSON Web Key with an optional key ID.
func MarshalJWK(secret Secret, keyID string) ([]byte, error) {
	if secret.IsEmpty() {
		return nil, ErrEmptySecret
	}
	key, err := jwk.New([]byte(secret))
	if err != nil {
		return nil, errors.Wrap(err, "cannot build JWK")
	}
	if keyID != "" {
		if err := key.Set(jwk.KeyIDKey, keyID); err != nil {
			return nil, errors.Wrap(err, "cannot set key ID")
		}
	}
	return json.Marshal(key)
}
