// Package cli contains the greeter-token command: minting, checking and decoding the bearer
// tokens a greeter client sends.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/config"
)

// Flags.
const (
	flagSecret   = "secret"
	flagJWK      = "jwk"
	flagIssuer   = "issuer"
	flagSubject  = "subject"
	flagAudience = "audience"
	flagTTL      = "ttl"
	flagKeyID    = "key-id"
)

func secretFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagSecret,
			EnvVars: []string{config.EnvSigningSecret, "GREETER_" + config.EnvSigningSecret},
			Usage:   "shared HMAC signing secret",
		},
		&cli.PathFlag{
			Name:    flagJWK,
			EnvVars: []string{config.EnvSigningKeyFile, "GREETER_" + config.EnvSigningKeyFile},
			Usage:   "read the signing secret from a JWK `FILE` (kty oct)",
		},
	}
}

func audienceFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  flagAudience,
		Value: config.DefaultTokenAudience,
		Usage: "token audience",
	}
}

// NewApp returns a new app with the token commands, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "greeter-token",
		Usage:           "mint and check greeter bearer tokens",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Commands: []*cli.Command{
			{
				Name:  "mint",
				Usage: "sign a new token and print it",
				Flags: append(secretFlags(),
					&cli.StringFlag{
						Name:  flagIssuer,
						Value: config.DefaultTokenIssuer,
						Usage: "token issuer",
					},
					&cli.StringFlag{
						Name:  flagSubject,
						Value: config.DefaultTokenSubject,
						Usage: "token subject, reported by the server as the caller",
					},
					audienceFlag(),
					&cli.DurationFlag{
						Name:  flagTTL,
						Value: config.DefaultTokenTTL,
						Usage: "token lifetime; negative values mint an expired token",
					},
				),
				Action: MintAction,
			},
			{
				Name:      "verify",
				Usage:     "check a token the way the server does",
				ArgsUsage: "<token>",
				Flags:     append(secretFlags(), audienceFlag()),
				Action:    VerifyAction,
			},
			{
				Name:      "inspect",
				Usage:     "decode a token without checking it",
				ArgsUsage: "<token>",
				Action:    InspectAction,
			},
			{
				Name:  "jwk",
				Usage: "print the signing secret as a JWK for SIGNING_KEY_FILE",
				Flags: append(secretFlags(),
					&cli.StringFlag{
						Name:  flagKeyID,
						Usage: "optional key ID",
					},
				),
				Action: JWKAction,
			},
		},
	}
}
