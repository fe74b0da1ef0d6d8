package testutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.viam.com/test"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/config"
)

// ServerName is the DNS name the generated server certificate is valid for.
const ServerName = "localhost"

// Certificates is a throwaway PKI: one root and a server and client leaf it signed.
type Certificates struct {
	RootPEM       []byte
	ServerCertPEM []byte
	ServerKeyPEM  []byte
	ClientCertPEM []byte
	ClientKeyPEM  []byte
}

type keyPair struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

var serialNumber atomic.Int64

func nextSerial() *big.Int {
	return big.NewInt(time.Now().UnixNano() + serialNumber.Add(1))
}

func newKey(tb testing.TB) *ecdsa.PrivateKey {
	tb.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	test.That(tb, err, test.ShouldBeNil)
	return key
}

func sign(tb testing.TB, template *x509.Certificate, key *ecdsa.PrivateKey, parent *keyPair) *keyPair {
	tb.Helper()
	parentCert, parentKey := template, key
	if parent != nil {
		parentCert, parentKey = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parentCert, &key.PublicKey, parentKey)
	test.That(tb, err, test.ShouldBeNil)
	cert, err := x509.ParseCertificate(der)
	test.That(tb, err, test.ShouldBeNil)
	return &keyPair{cert: cert, key: key}
}

func (kp *keyPair) certPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: kp.cert.Raw})
}

func (kp *keyPair) keyPEM(tb testing.TB) []byte {
	tb.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(kp.key)
	test.That(tb, err, test.ShouldBeNil)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// GenerateCertificates creates a new root and a server and client certificate signed by it. The
// client certificate carries clientIdentity as its only DNS name and as its common name.
func GenerateCertificates(tb testing.TB, clientIdentity string) *Certificates {
	tb.Helper()
	notBefore := time.Now().Add(-time.Hour)
	notAfter := time.Now().Add(24 * time.Hour)

	root := sign(tb, &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: "greeter test root"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}, newKey(tb), nil)

	server := sign(tb, &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      pkix.Name{CommonName: "greeter-server"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		DNSNames:     []string{ServerName},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}, newKey(tb), root)

	clientTemplate := &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      pkix.Name{CommonName: clientIdentity},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	if clientIdentity != "" {
		clientTemplate.DNSNames = []string{clientIdentity}
	}
	client := sign(tb, clientTemplate, newKey(tb), root)

	return &Certificates{
		RootPEM:       root.certPEM(),
		ServerCertPEM: server.certPEM(),
		ServerKeyPEM:  server.keyPEM(tb),
		ClientCertPEM: client.certPEM(),
		ClientKeyPEM:  client.keyPEM(tb),
	}
}

// WriteDir writes the certificates under the names LoadCertificateMaterial expects and returns
// the directory.
func (c *Certificates) WriteDir(tb testing.TB) string {
	tb.Helper()
	dir := tb.TempDir()
	for name, data := range map[string][]byte{
		config.RootCertificateFile:   c.RootPEM,
		config.ServerCertificateFile: c.ServerCertPEM,
		config.ServerKeyFile:         c.ServerKeyPEM,
		config.ClientCertificateFile: c.ClientCertPEM,
		config.ClientKeyFile:         c.ClientKeyPEM,
	} {
		test.That(tb, os.WriteFile(filepath.Join(dir, name), data, 0o600), test.ShouldBeNil)
	}
	return dir
}

// Material returns the certificate material for role, as LoadCertificateMaterial would for mode.
func (c *Certificates) Material(role config.Role, mode config.SecurityMode) *config.CertificateMaterial {
	material := &config.CertificateMaterial{}
	if !mode.IsTransportSecure() {
		return material
	}
	if role == config.ServerRole {
		material.LocalCertificate = c.ServerCertPEM
		material.LocalPrivateKey = c.ServerKeyPEM
		if mode == config.MutualTransportSecure {
			material.RootCertificate = c.RootPEM
		}
		return material
	}
	material.RootCertificate = c.RootPEM
	if mode == config.MutualTransportSecure {
		material.LocalCertificate = c.ClientCertPEM
		material.LocalPrivateKey = c.ClientKeyPEM
	}
	return material
}
