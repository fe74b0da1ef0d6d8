package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func writeCertsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		test.That(t, os.WriteFile(filepath.Join(dir, name), []byte("pem:"+name), 0o600), test.ShouldBeNil)
	}
	return dir
}

func TestLoadCertificateMaterial(t *testing.T) {
	all := writeCertsDir(t,
		RootCertificateFile, ClientCertificateFile, ClientKeyFile, ServerCertificateFile, ServerKeyFile)

	t.Run("insecure reads nothing", func(t *testing.T) {
		material, err := LoadCertificateMaterial("", ClientRole, Insecure)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, material.RootCertificate, test.ShouldBeEmpty)
		test.That(t, material.Require(ServerRole, Insecure), test.ShouldBeNil)
	})

	t.Run("client modes", func(t *testing.T) {
		for _, mode := range []SecurityMode{TransportSecure, TransportSecureWithToken} {
			material, err := LoadCertificateMaterial(all, ClientRole, mode)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, string(material.RootCertificate), test.ShouldEqual, "pem:ca.pem")
			test.That(t, material.LocalCertificate, test.ShouldBeEmpty)
		}

		material, err := LoadCertificateMaterial(all, ClientRole, MutualTransportSecure)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(material.LocalCertificate), test.ShouldEqual, "pem:client.pem")
		test.That(t, string(material.LocalPrivateKey), test.ShouldEqual, "pem:client.key")
	})

	t.Run("server modes", func(t *testing.T) {
		material, err := LoadCertificateMaterial(all, ServerRole, TransportSecure)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, material.RootCertificate, test.ShouldBeEmpty)
		test.That(t, string(material.LocalCertificate), test.ShouldEqual, "pem:server.pem")
		test.That(t, string(material.LocalPrivateKey), test.ShouldEqual, "pem:server.key")

		material, err = LoadCertificateMaterial(all, ServerRole, MutualTransportSecure)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(material.RootCertificate), test.ShouldEqual, "pem:ca.pem")
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := LoadCertificateMaterial("", ClientRole, TransportSecure)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, EnvCertsPath)
	})

	t.Run("mutual without key pair", func(t *testing.T) {
		rootOnly := writeCertsDir(t, RootCertificateFile)
		_, err := LoadCertificateMaterial(rootOnly, ClientRole, MutualTransportSecure)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, ClientCertificateFile)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := LoadCertificateMaterial(all, ClientRole, SecurityMode(9))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
	})
}

func TestRequire(t *testing.T) {
	material := &CertificateMaterial{RootCertificate: []byte("root")}
	test.That(t, material.Require(ClientRole, TransportSecure), test.ShouldBeNil)

	err := material.Require(ClientRole, MutualTransportSecure)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, IsConfigurationError(err), test.ShouldBeTrue)

	material.LocalCertificate = []byte("cert")
	err = material.Require(ClientRole, MutualTransportSecure)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, ClientKeyFile)

	err = (*CertificateMaterial)(nil).Require(ServerRole, TransportSecure)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, ServerCertificateFile)
}
