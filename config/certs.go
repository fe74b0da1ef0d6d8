package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Names of the PEM files expected inside CERTS_PATH.
const (
	RootCertificateFile   = "ca.pem"
	ClientCertificateFile = "client.pem"
	ClientKeyFile         = "client.key"
	ServerCertificateFile = "server.pem"
	ServerKeyFile         = "server.key"
)

// CertificateMaterial is the PEM encoded material a transport credential is built from. It is
// loaded once at startup and never mutated.
type CertificateMaterial struct {
	RootCertificate  []byte
	LocalCertificate []byte
	LocalPrivateKey  []byte
}

// needsRoot reports whether the root certificate must be present for role and mode. A client
// verifies the server in every secure mode; a server only verifies clients under mTLS.
func needsRoot(role Role, mode SecurityMode) bool {
	if !mode.IsTransportSecure() {
		return false
	}
	return role == ClientRole || mode == MutualTransportSecure
}

// needsLocalPair reports whether a local certificate and key must be present for role and mode.
func needsLocalPair(role Role, mode SecurityMode) bool {
	if !mode.IsTransportSecure() {
		return false
	}
	return role == ServerRole || mode == MutualTransportSecure
}

func localFileNames(role Role) (string, string) {
	if role == ServerRole {
		return ServerCertificateFile, ServerKeyFile
	}
	return ClientCertificateFile, ClientKeyFile
}

// Require returns a ConfigurationError if material required by role and mode is absent.
func (cm *CertificateMaterial) Require(role Role, mode SecurityMode) error {
	if err := mode.Validate(); err != nil {
		return NewConfigurationError("security", err)
	}
	if cm == nil {
		cm = &CertificateMaterial{}
	}
	if needsRoot(role, mode) && len(cm.RootCertificate) == 0 {
		return NewConfigurationError(RootCertificateFile,
			errors.Errorf("root certificate is required for %s %s", role, mode))
	}
	if needsLocalPair(role, mode) {
		certFile, keyFile := localFileNames(role)
		if len(cm.LocalCertificate) == 0 {
			return NewConfigurationError(certFile,
				errors.Errorf("local certificate is required for %s %s", role, mode))
		}
		if len(cm.LocalPrivateKey) == 0 {
			return NewConfigurationError(keyFile,
				errors.Errorf("local private key is required for %s %s", role, mode))
		}
	}
	return nil
}

// LoadCertificateMaterial reads only the files that role and mode need from certsPath. The
// insecure mode never touches the filesystem.
func LoadCertificateMaterial(certsPath string, role Role, mode SecurityMode) (*CertificateMaterial, error) {
	if err := mode.Validate(); err != nil {
		return nil, NewConfigurationError("security", err)
	}
	material := &CertificateMaterial{}
	if !mode.IsTransportSecure() {
		return material, nil
	}
	if certsPath == "" {
		return nil, NewConfigurationError(EnvCertsPath,
			errors.Errorf("a certificate directory is required for %s %s", role, mode))
	}

	read := func(name string) ([]byte, error) {
		//nolint:gosec
		data, err := os.ReadFile(filepath.Join(certsPath, name))
		if err != nil {
			return nil, NewConfigurationError(name, errors.Wrap(err, "cannot read certificate material"))
		}
		return data, nil
	}

	var err error
	if needsRoot(role, mode) {
		if material.RootCertificate, err = read(RootCertificateFile); err != nil {
			return nil, err
		}
	}
	if needsLocalPair(role, mode) {
		certFile, keyFile := localFileNames(role)
		if material.LocalCertificate, err = read(certFile); err != nil {
			return nil, err
		}
		if material.LocalPrivateKey, err = read(keyFile); err != nil {
			return nil, err
		}
	}
	return material, material.Require(role, mode)
}
