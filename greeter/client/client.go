// Package client runs the greeter client process.
package client

import (
	"context"

	"google.golang.org/grpc"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/config"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/credentials"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/driver"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/greeter"
	greetergrpc "github.com/jtattermusch/grpc-authentication-kubernetes-examples/grpc"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/tokens"
)

// UserAgent prefixes the user-agent of every call the client makes.
const UserAgent = "greeter-client"

// Credential resolves the transport credential for cfg, with a token issuer attached when the
// security mode calls for one.
func Credential(cfg *config.ClientConfig) (*credentials.TransportCredential, error) {
	material, err := config.LoadCertificateMaterial(cfg.CertsPath, config.ClientRole, cfg.Security)
	if err != nil {
		return nil, err
	}

	var opts []credentials.Option
	if cfg.ServerName != "" {
		opts = append(opts, credentials.WithServerNameOverride(cfg.ServerName))
	}
	if cfg.Security.UsesToken() {
		secret, err := tokens.LoadSigningSecret(&cfg.Token)
		if err != nil {
			return nil, err
		}
		issuer, err := tokens.NewIssuer(secret, cfg.Token.Issuer, cfg.Token.Audience, cfg.Token.Subject, cfg.Token.TTL, nil)
		if err != nil {
			return nil, err
		}
		opts = append(opts, credentials.WithTokenIssuer(issuer))
	}
	return credentials.Resolve(config.ClientRole, cfg.Security, material, opts...)
}

// Dial opens a connection to the configured target.
func Dial(ctx context.Context, cfg *config.ClientConfig, logger logging.Logger) (*grpc.ClientConn, error) {
	cred, err := Credential(cfg)
	if err != nil {
		return nil, err
	}
	logger.Infow("Creating channel", "target", cfg.Target, "security", cfg.Security.String())
	return greetergrpc.Dial(ctx, cfg.Target, cred, logger.Sublogger("grpc"),
		greetergrpc.WithCallTimeout(cfg.CallTimeout),
		greetergrpc.WithRetries(cfg.CallRetries),
		greetergrpc.WithGRPCDialOptions(grpc.WithUserAgent(UserAgent)),
	)
}

// Run greets the server the configured number of times, then closes the connection.
func Run(ctx context.Context, cfg *config.ClientConfig, logger logging.Logger) (driver.Stats, error) {
	stats, err := driver.RunWithConn(ctx,
		func(ctx context.Context) (*grpc.ClientConn, error) {
			return Dial(ctx, cfg, logger)
		},
		func(conn *grpc.ClientConn) driver.Caller {
			return greeter.NewClient(conn)
		},
		driver.Options{
			Iterations: cfg.Iterations,
			Delay:      cfg.CallDelay,
			Name:       cfg.Name,
			Logger:     logger.Sublogger("driver"),
		},
	)
	logger.Infow("done", "attempted", stats.Attempted, "succeeded", stats.Succeeded, "failed", stats.Failed)
	return stats, err
}
