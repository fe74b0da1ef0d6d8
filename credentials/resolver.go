// Package credentials turns a security mode and its certificate material into the gRPC transport
// and per-call credentials a greeter client or server uses.
package credentials

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	grpccreds "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/config"
)

// TransportCredential is what a channel or listener is secured with. It is built once at startup
// and used by a single dial or serve.
type TransportCredential struct {
	role      config.Role
	mode      config.SecurityMode
	transport grpccreds.TransportCredentials
	perRPC    grpccreds.PerRPCCredentials
}

// Role returns the side the credential was built for.
func (tc *TransportCredential) Role() config.Role {
	return tc.role
}

// Mode returns the security mode the credential implements.
func (tc *TransportCredential) Mode() config.SecurityMode {
	return tc.mode
}

// Transport returns the gRPC transport credentials.
func (tc *TransportCredential) Transport() grpccreds.TransportCredentials {
	return tc.transport
}

// PerRPC returns the per-call credentials, or nil when calls carry none.
func (tc *TransportCredential) PerRPC() grpccreds.PerRPCCredentials {
	return tc.perRPC
}

// DialOptions returns the options that secure a client connection.
func (tc *TransportCredential) DialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(tc.transport)}
	if tc.perRPC != nil {
		opts = append(opts, grpc.WithPerRPCCredentials(tc.perRPC))
	}
	return opts
}

// ServerOptions returns the options that secure a listener.
func (tc *TransportCredential) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.Creds(tc.transport)}
}

type resolveOptions struct {
	tokenSource TokenSource
	serverName  string
}

// Option configures Resolve.
type Option interface {
	apply(*resolveOptions)
}

type funcOption struct {
	f func(*resolveOptions)
}

func (fo *funcOption) apply(ro *resolveOptions) {
	fo.f(ro)
}

func newFuncOption(f func(*resolveOptions)) *funcOption {
	return &funcOption{f}
}

// WithTokenIssuer sets where client calls get their bearer token from. It is required for a
// client using TransportSecureWithToken and ignored otherwise.
func WithTokenIssuer(source TokenSource) Option {
	return newFuncOption(func(ro *resolveOptions) {
		ro.tokenSource = source
	})
}

// WithServerNameOverride makes a client verify the server certificate against name instead of
// the host it dials.
func WithServerNameOverride(name string) Option {
	return newFuncOption(func(ro *resolveOptions) {
		ro.serverName = name
	})
}

// Resolve builds the credential for role under mode from material. It does no I/O. Missing or
// unusable material and unknown modes are reported as a *config.ConfigurationError.
func Resolve(
	role config.Role,
	mode config.SecurityMode,
	material *config.CertificateMaterial,
	opts ...Option,
) (*TransportCredential, error) {
	var ro resolveOptions
	for _, opt := range opts {
		opt.apply(&ro)
	}
	if err := material.Require(role, mode); err != nil {
		return nil, err
	}

	cred := &TransportCredential{role: role, mode: mode}
	if mode == config.Insecure {
		cred.transport = insecure.NewCredentials()
		return cred, nil
	}

	var tlsConfig *tls.Config
	var err error
	if role == config.ServerRole {
		tlsConfig, err = serverTLSConfig(mode, material)
	} else {
		tlsConfig, err = clientTLSConfig(mode, material, ro.serverName)
	}
	if err != nil {
		return nil, err
	}
	cred.transport = grpccreds.NewTLS(tlsConfig)

	if role == config.ClientRole && mode.UsesToken() {
		if ro.tokenSource == nil {
			return nil, config.NewConfigurationError(config.EnvSigningSecret,
				errors.Errorf("a token issuer is required for security mode %q", mode))
		}
		cred.perRPC = NewTokenCredentials(ro.tokenSource)
	}
	return cred, nil
}

func newDefaultTLSConfig() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

func rootPool(pemCerts []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemCerts) {
		return nil, config.NewConfigurationError(config.RootCertificateFile,
			errors.New("no PEM encoded certificates found"))
	}
	return pool, nil
}

func keyPair(role config.Role, material *config.CertificateMaterial) (tls.Certificate, error) {
	cert, err := tls.X509KeyPair(material.LocalCertificate, material.LocalPrivateKey)
	if err != nil {
		certFile := config.ClientCertificateFile
		if role == config.ServerRole {
			certFile = config.ServerCertificateFile
		}
		return tls.Certificate{}, config.NewConfigurationError(certFile,
			errors.Wrap(err, "invalid certificate or private key"))
	}
	return cert, nil
}

func clientTLSConfig(mode config.SecurityMode, material *config.CertificateMaterial, serverName string) (*tls.Config, error) {
	tlsConfig := newDefaultTLSConfig()
	tlsConfig.ServerName = serverName

	pool, err := rootPool(material.RootCertificate)
	if err != nil {
		return nil, err
	}
	tlsConfig.RootCAs = pool

	if mode == config.MutualTransportSecure {
		cert, err := keyPair(config.ClientRole, material)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// serverTLSConfig treats TransportSecureWithToken like TransportSecure; tokens are checked per
// call, not by the listener.
func serverTLSConfig(mode config.SecurityMode, material *config.CertificateMaterial) (*tls.Config, error) {
	tlsConfig := newDefaultTLSConfig()

	cert, err := keyPair(config.ServerRole, material)
	if err != nil {
		return nil, err
	}
	tlsConfig.Certificates = []tls.Certificate{cert}

	if mode == config.MutualTransportSecure {
		pool, err := rootPool(material.RootCertificate)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, nil
}
