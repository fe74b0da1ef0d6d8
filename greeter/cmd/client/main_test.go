package main

import (
	"context"
	"net"
	"testing"

	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/config"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/greeter/server"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/testutils"
)

func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}

const testSecret = "client main secret"

func startServer(t *testing.T, certsPath string) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	srv, err := server.NewWithListener(&config.ServerConfig{
		Security:  config.TransportSecure,
		CertsPath: certsPath,
		Token:     config.TokenConfig{SigningSecret: testSecret, Audience: config.DefaultTokenAudience},
	}, listener, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		test.That(t, <-serveErr, test.ShouldBeNil)
	})
	return srv.Addr().String()
}

func TestMainMain(t *testing.T) {
	certsPath := testutils.GenerateCertificates(t, "").WriteDir(t)
	target := startServer(t, certsPath)

	setEnv := func(mode string) func(t *testing.T, _ logging.Logger) {
		return func(t *testing.T, _ logging.Logger) {
			t.Helper()
			t.Setenv(config.EnvServiceTarget, target)
			t.Setenv(config.EnvClientSecurity, mode)
			t.Setenv(config.EnvCertsPath, certsPath)
			t.Setenv(config.EnvTLSServerName, testutils.ServerName)
			t.Setenv(config.EnvSigningSecret, testSecret)
			t.Setenv(config.EnvClientIterations, "2")
			t.Setenv(config.EnvClientCallDelay, "0s")
		}
	}

	testutils.TestMain(t, mainWithArgs, []testutils.MainTestCase{
		{
			Name:   "missing mode",
			Err:    config.EnvClientSecurity,
			Before: setEnv(""),
		},
		{
			Name: "jwt without secret",
			Err:  config.EnvSigningSecret,
			Before: func(t *testing.T, logger logging.Logger) {
				setEnv("jwt")(t, logger)
				t.Setenv(config.EnvSigningSecret, "")
			},
		},
		{
			Name: "bad iterations",
			Err:  config.EnvClientIterations,
			Before: func(t *testing.T, logger logging.Logger) {
				setEnv("tls")(t, logger)
				t.Setenv(config.EnvClientIterations, "many")
			},
		},
		{
			Name:   "greets over jwt",
			Before: setEnv("jwt"),
			After: func(t *testing.T, logs *observer.ObservedLogs) {
				greeting := `Greeting: Hello you (authenticated as "demo-jwt-subject@cluster.local" via JWT)`
				test.That(t, logs.FilterMessage(greeting).Len(), test.ShouldEqual, 2)
			},
		},
		{
			Name:   "greets over tls",
			Before: setEnv("tls"),
			After: func(t *testing.T, logs *observer.ObservedLogs) {
				test.That(t, logs.FilterMessage("Greeting: Hello you").Len(), test.ShouldEqual, 2)
				test.That(t, logs.FilterMessage("Error invoking greeting").Len(), test.ShouldEqual, 0)
			},
		},
	})
}
