package cli

import (
	"fmt"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/config"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/tokens"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	faint = color.New(color.Faint).SprintFunc()
)

func secretFrom(c *cli.Context) (tokens.Secret, error) {
	return tokens.LoadSigningSecret(&config.TokenConfig{
		SigningSecret:  c.String(flagSecret),
		SigningKeyFile: c.Path(flagJWK),
	})
}

func tokenArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.Errorf("expected exactly one token argument but got %d", c.NArg())
	}
	return strings.TrimSpace(c.Args().First()), nil
}

func newTable(c *cli.Context) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.SetStyle(table.StyleLight)
	return t
}

// MintAction prints a freshly signed token.
func MintAction(c *cli.Context) error {
	secret, err := secretFrom(c)
	if err != nil {
		return err
	}
	issuer, err := tokens.NewIssuer(secret, c.String(flagIssuer), c.String(flagAudience), c.String(flagSubject), c.Duration(flagTTL), nil)
	if err != nil {
		return err
	}
	token, err := issuer.Issue()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}

// VerifyAction reports whether the server would accept a token. It fails when it would not.
func VerifyAction(c *cli.Context) error {
	token, err := tokenArg(c)
	if err != nil {
		return err
	}
	secret, err := secretFrom(c)
	if err != nil {
		return err
	}
	verifier, err := tokens.NewVerifier(secret, c.String(flagAudience), nil)
	if err != nil {
		return err
	}

	result := verifier.Verify(token)
	t := newTable(c)
	t.AppendHeader(table.Row{"Result", "Subject", "Reason"})
	if result.Authenticated() {
		t.AppendRow(table.Row{green("authenticated"), result.Subject, faint(result.Reason.String())})
		t.Render()
		return nil
	}
	t.AppendRow(table.Row{red("rejected"), faint("-"), result.Reason.String()})
	t.Render()
	return errors.Errorf("token rejected: %s", result.Reason)
}

// InspectAction prints the header and claims of a token without verifying it.
func InspectAction(c *cli.Context) error {
	token, err := tokenArg(c)
	if err != nil {
		return err
	}
	insp, err := tokens.Inspect(token)
	if err != nil {
		return err
	}

	orNone := func(s string) string {
		if s == "" {
			return faint("(none)")
		}
		return s
	}
	expiry := faint("(none)")
	if !insp.Claims.Expiry.IsZero() {
		expiry = insp.Claims.Expiry.UTC().Format(time.RFC3339)
		if remaining := time.Until(insp.Claims.Expiry); remaining > 0 {
			expiry += " " + faint("(in "+units.HumanDuration(remaining)+")")
		} else {
			expiry += " " + red("(expired "+units.HumanDuration(-remaining)+" ago)")
		}
	}

	t := newTable(c)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"alg", orNone(insp.Algorithm)},
		{"kid", orNone(insp.KeyID)},
		{"iss", orNone(insp.Claims.Issuer)},
		{"sub", orNone(insp.Claims.Subject)},
		{"aud", orNone(strings.Join(insp.Claims.Audience, ", "))},
		{"exp", expiry},
	})
	t.Render()
	fmt.Fprintln(c.App.Writer, faint("signature not checked"))
	return nil
}

// JWKAction prints the signing secret encoded as a JSON Web Key.
func JWKAction(c *cli.Context) error {
	secret, err := secretFrom(c)
	if err != nil {
		return err
	}
	data, err := tokens.MarshalJWK(secret, c.String(flagKeyID))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(data))
	return nil
}
