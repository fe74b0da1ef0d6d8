package driver

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// DialFunc acquires the connection calls are made over.
type DialFunc[C io.Closer] func(ctx context.Context) (C, error)

// NewCallerFunc builds the Caller for a connection.
type NewCallerFunc[C io.Closer] func(conn C) Caller

// RunWithConn dials, runs a Driver over the connection and closes it exactly once, whether the
// run finishes, is cancelled or panics. A close error is combined with the run error.
func RunWithConn[C io.Closer](
	ctx context.Context,
	dial DialFunc[C],
	newCaller NewCallerFunc[C],
	opts Options,
) (stats Stats, err error) {
	conn, err := dial(ctx)
	if err != nil {
		return Stats{}, errors.Wrap(err, "failed to connect")
	}

	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			err = multierr.Combine(err, errors.Wrap(closeErr, "failed to close connection"))
		}
	}()

	return New(newCaller(conn), opts).Run(ctx)
}
