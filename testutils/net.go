package testutils

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils"
)

var waitDur = 5 * time.Second

// WaitSuccessfulDial waits until a TCP connection to address can be opened.
func WaitSuccessfulDial(address string) error {
	ctx, cancel := context.WithTimeout(context.Background(), waitDur)
	defer cancel()
	lastErr := errors.New("timed out dialing")
	var dialer net.Dialer
	for {
		if ctx.Err() != nil {
			return lastErr
		}
		var conn net.Conn
		conn, lastErr = dialer.DialContext(ctx, "tcp", address)
		if lastErr == nil {
			return conn.Close()
		}
		if !utils.SelectContextOrWait(ctx, 10*time.Millisecond) {
			return errors.Wrap(lastErr, "timed out dialing")
		}
	}
}

// FreeLocalPort returns a loopback port that was free a moment ago, for code that only accepts
// a port number rather than a listener.
func FreeLocalPort(tb testing.TB) int {
	tb.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(tb, err, test.ShouldBeNil)
	port := listener.Addr().(*net.TCPAddr).Port
	test.That(tb, listener.Close(), test.ShouldBeNil)
	return port
}
