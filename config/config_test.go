package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
)

func lookupFrom(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		val, ok := env[key]
		return val, ok
	}
}

func TestParseSecurityMode(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected SecurityMode
	}{
		{"insecure", Insecure},
		{"tls", TransportSecure},
		{"jwt", TransportSecureWithToken},
		{"mtls", MutualTransportSecure},
		{" MTLS ", MutualTransportSecure},
	} {
		mode, err := ParseSecurityMode(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mode, test.ShouldEqual, tc.expected)
		test.That(t, mode.Validate(), test.ShouldBeNil)
	}

	_, err := ParseSecurityMode("ssl")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `unknown security mode "ssl"`)

	test.That(t, SecurityMode(0).Validate(), test.ShouldNotBeNil)
	test.That(t, SecurityMode(42).Validate(), test.ShouldNotBeNil)
	test.That(t, SecurityMode(42).String(), test.ShouldEqual, "unknown")
}

func TestSecurityModeText(t *testing.T) {
	for _, mode := range SecurityModes {
		text, err := mode.MarshalText()
		test.That(t, err, test.ShouldBeNil)
		var parsed SecurityMode
		test.That(t, parsed.UnmarshalText(text), test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, mode)
	}
	_, err := SecurityMode(0).MarshalText()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadClientConfig(t *testing.T) {
	t.Run("defaults with original variable names", func(t *testing.T) {
		cfg, err := ReadClientConfig(lookupFrom(map[string]string{
			"GREETER_SERVICE_TARGET":  "greeter-server:8000",
			"GREETER_CLIENT_SECURITY": "tls",
			"CERTS_PATH":              "/certs",
		}))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Target, test.ShouldEqual, "greeter-server:8000")
		test.That(t, cfg.Security, test.ShouldEqual, TransportSecure)
		test.That(t, cfg.CertsPath, test.ShouldEqual, "/certs")
		test.That(t, cfg.Name, test.ShouldEqual, DefaultGreeterName)
		test.That(t, cfg.Iterations, test.ShouldEqual, DefaultIterations)
		test.That(t, cfg.CallDelay, test.ShouldEqual, DefaultCallDelay)
		test.That(t, cfg.Token.Audience, test.ShouldEqual, DefaultTokenAudience)
		test.That(t, cfg.Token.TTL, test.ShouldEqual, time.Hour)
	})

	t.Run("unprefixed names win", func(t *testing.T) {
		cfg, err := ReadClientConfig(lookupFrom(map[string]string{
			"SERVICE_TARGET":          "a:1",
			"GREETER_SERVICE_TARGET":  "b:2",
			"CLIENT_SECURITY":         "insecure",
			"GREETER_CLIENT_SECURITY": "mtls",
			"CLIENT_ITERATIONS":       "3",
			"CLIENT_CALL_DELAY":       "250ms",
			"CALL_RETRIES":            "2",
		}))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Target, test.ShouldEqual, "a:1")
		test.That(t, cfg.Security, test.ShouldEqual, Insecure)
		test.That(t, cfg.Iterations, test.ShouldEqual, 3)
		test.That(t, cfg.CallDelay, test.ShouldEqual, 250*time.Millisecond)
		test.That(t, cfg.CallRetries, test.ShouldEqual, uint(2))
	})

	t.Run("unknown mode is a configuration error", func(t *testing.T) {
		_, err := ReadClientConfig(lookupFrom(map[string]string{"CLIENT_SECURITY": "plaintext"}))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, EnvClientSecurity)
	})

	t.Run("missing mode is a configuration error", func(t *testing.T) {
		_, err := ReadClientConfig(lookupFrom(map[string]string{}))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
	})

	t.Run("jwt requires a secret", func(t *testing.T) {
		_, err := ReadClientConfig(lookupFrom(map[string]string{"CLIENT_SECURITY": "jwt"}))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, EnvSigningSecret)

		cfg, err := ReadClientConfig(lookupFrom(map[string]string{
			"CLIENT_SECURITY": "jwt",
			"SIGNING_SECRET":  "s3cr3t",
		}))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Token.SigningSecret, test.ShouldEqual, "s3cr3t")
	})

	t.Run("secret and key file are exclusive", func(t *testing.T) {
		_, err := ReadClientConfig(lookupFrom(map[string]string{
			"CLIENT_SECURITY":  "jwt",
			"SIGNING_SECRET":   "s3cr3t",
			"SIGNING_KEY_FILE": "/keys/secret.jwk",
		}))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, EnvSigningKeyFile)
	})

	t.Run("bad numbers are reported", func(t *testing.T) {
		_, err := ReadClientConfig(lookupFrom(map[string]string{
			"CLIENT_SECURITY":   "insecure",
			"CLIENT_ITERATIONS": "many",
			"CLIENT_CALL_DELAY": "soon",
		}))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, EnvClientIterations)
		test.That(t, err.Error(), test.ShouldContainSubstring, EnvClientCallDelay)
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
	})

	t.Run("negative iterations", func(t *testing.T) {
		_, err := ReadClientConfig(lookupFrom(map[string]string{
			"CLIENT_SECURITY":   "insecure",
			"CLIENT_ITERATIONS": "-1",
		}))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "must not be negative")
	})
}

func TestReadServerConfig(t *testing.T) {
	cfg, err := ReadServerConfig(lookupFrom(map[string]string{
		"GREETER_SERVER_SECURITY": "mtls",
		"CERTS_PATH":              "/certs",
		"SERVER_PORT":             "9000",
	}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Security, test.ShouldEqual, MutualTransportSecure)
	test.That(t, cfg.Port, test.ShouldEqual, 9000)
	test.That(t, cfg.ListenAddress(), test.ShouldEqual, "0.0.0.0:9000")

	cfg, err = ReadServerConfig(lookupFrom(map[string]string{"SERVER_SECURITY": "insecure"}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Port, test.ShouldEqual, DefaultServerPort)

	_, err = ReadServerConfig(lookupFrom(map[string]string{"SERVER_SECURITY": "jwt"}))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "client only")

	_, err = ReadServerConfig(lookupFrom(map[string]string{"SERVER_SECURITY": "tls", "SERVER_PORT": "70000"}))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, EnvServerPort)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.json")
	t.Setenv("GREETER_TEST_FILE_SECRET", "from-file-env")
	err := os.WriteFile(path, []byte(`{
		"target": "file-target:8000",
		"security": "jwt",
		"iterations": 7,
		"callDelay": "2s",
		"token": {
			"signingSecret": "${GREETER_TEST_FILE_SECRET}",
			"ttl": "5m"
		},
		"logging": {"level": "debug"}
	}`), 0o600)
	test.That(t, err, test.ShouldBeNil)

	cfg, err := ReadClientConfig(lookupFrom(map[string]string{
		"GREETER_CONFIG":    path,
		"CLIENT_ITERATIONS": "9",
	}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Target, test.ShouldEqual, "file-target:8000")
	test.That(t, cfg.Security, test.ShouldEqual, TransportSecureWithToken)
	test.That(t, cfg.Iterations, test.ShouldEqual, 9)
	test.That(t, cfg.CallDelay, test.ShouldEqual, 2*time.Second)
	test.That(t, cfg.Token.SigningSecret, test.ShouldEqual, "from-file-env")
	test.That(t, cfg.Token.TTL, test.ShouldEqual, 5*time.Minute)
	test.That(t, cfg.Token.Audience, test.ShouldEqual, DefaultTokenAudience)
	test.That(t, cfg.Logging.Level, test.ShouldEqual, "debug")

	t.Run("unknown keys are rejected", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		test.That(t, os.WriteFile(bad, []byte(`{"security": "tls", "colour": "blue"}`), 0o600), test.ShouldBeNil)
		_, err := ReadClientConfig(lookupFrom(map[string]string{"GREETER_CONFIG": bad}))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
	})

	t.Run("bad mode in file", func(t *testing.T) {
		bad := filepath.Join(dir, "badmode.json")
		test.That(t, os.WriteFile(bad, []byte(`{"security": "ssl"}`), 0o600), test.ShouldBeNil)
		_, err := ReadClientConfig(lookupFrom(map[string]string{"GREETER_CONFIG": bad}))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "unknown security mode")
	})

	t.Run("comments and trailing commas", func(t *testing.T) {
		relaxed := filepath.Join(dir, "relaxed.json5")
		test.That(t, os.WriteFile(relaxed, []byte(`{
			// served by the demo deployment
			port: 9000,
			security: "mtls",
			certsPath: "/certs",
		}`), 0o600), test.ShouldBeNil)
		cfg, err := ReadServerConfig(lookupFrom(map[string]string{"GREETER_CONFIG": relaxed}))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Port, test.ShouldEqual, 9000)
		test.That(t, cfg.Security, test.ShouldEqual, MutualTransportSecure)
		test.That(t, cfg.CertsPath, test.ShouldEqual, "/certs")
	})

	t.Run("invalid json", func(t *testing.T) {
		bad := filepath.Join(dir, "broken.json")
		test.That(t, os.WriteFile(bad, []byte(`{"security": `), 0o600), test.ShouldBeNil)
		_, err := ReadClientConfig(lookupFrom(map[string]string{"GREETER_CONFIG": bad}))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "invalid json")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadClientConfig(lookupFrom(map[string]string{"GREETER_CONFIG": filepath.Join(dir, "nope.json")}))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
	})
}

func TestDurations(t *testing.T) {
	t.Run("environment", func(t *testing.T) {
		cfg, err := ReadClientConfig(lookupFrom(map[string]string{
			"CLIENT_SECURITY":   "insecure",
			"TOKEN_TTL":         "3600",
			"CLIENT_CALL_DELAY": "1",
			"CALL_TIMEOUT":      "2.5",
		}))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Token.TTL, test.ShouldEqual, time.Hour)
		test.That(t, cfg.CallDelay, test.ShouldEqual, time.Second)
		test.That(t, cfg.CallTimeout, test.ShouldEqual, 2500*time.Millisecond)

		cfg, err = ReadClientConfig(lookupFrom(map[string]string{
			"CLIENT_SECURITY":   "insecure",
			"TOKEN_TTL":         "90m",
			"CLIENT_CALL_DELAY": "250ms",
		}))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Token.TTL, test.ShouldEqual, 90*time.Minute)
		test.That(t, cfg.CallDelay, test.ShouldEqual, 250*time.Millisecond)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "client.json5")
		test.That(t, os.WriteFile(path, []byte(`{
			security: "insecure",
			token: {ttl: 3600},
			callDelay: 1,
		}`), 0o600), test.ShouldBeNil)
		cfg, err := ReadClientConfig(lookupFrom(map[string]string{"GREETER_CONFIG": path}))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Token.TTL, test.ShouldEqual, time.Hour)
		test.That(t, cfg.CallDelay, test.ShouldEqual, time.Second)
	})

	t.Run("ttl shorter than a second", func(t *testing.T) {
		for _, ttl := range []string{"500ms", "0", "-5"} {
			_, err := ReadClientConfig(lookupFrom(map[string]string{
				"CLIENT_SECURITY": "insecure",
				"TOKEN_TTL":       ttl,
			}))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
			test.That(t, err.Error(), test.ShouldContainSubstring, EnvTokenTTL)
		}

		path := filepath.Join(t.TempDir(), "server.json5")
		test.That(t, os.WriteFile(path, []byte(`{security: "tls", token: {ttl: 0.5}}`), 0o600), test.ShouldBeNil)
		_, err := ReadServerConfig(lookupFrom(map[string]string{"GREETER_CONFIG": path}))
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
	})

	t.Run("unparseable", func(t *testing.T) {
		_, err := ReadClientConfig(lookupFrom(map[string]string{
			"CLIENT_SECURITY":   "insecure",
			"CLIENT_CALL_DELAY": "soon",
		}))
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)

		_, err = ReadClientConfig(lookupFrom(map[string]string{
			"CLIENT_SECURITY": "insecure",
			"TOKEN_TTL":       "1e300",
		}))
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
	})
}

func TestLoggingConfigApply(t *testing.T) {
	logger := logging.NewBlankLogger("apply")
	lc := LoggingConfig{Level: "warn", File: filepath.Join(t.TempDir(), "greeter.log")}
	closeFn, err := lc.Apply(logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.GetLevel(), test.ShouldEqual, logging.WARN)

	logger.Warn("to the file")
	test.That(t, closeFn(), test.ShouldBeNil)

	contents, err := os.ReadFile(lc.File)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "to the file")

	_, err = (&LoggingConfig{Level: "chatty"}).Apply(logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
}
