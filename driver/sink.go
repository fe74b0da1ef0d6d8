package driver

import (
	"context"

	"google.golang.org/grpc/status"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
)

// Sink observes the outcome of each call.
type Sink interface {
	Succeeded(ctx context.Context, iteration int, reply string)
	Failed(ctx context.Context, iteration int, err error)
}

// LoggingSink logs every reply and every failure.
type LoggingSink struct {
	logger logging.Logger
}

// NewLoggingSink returns a Sink writing to logger.
func NewLoggingSink(logger logging.Logger) *LoggingSink {
	return &LoggingSink{logger: logger}
}

// Succeeded implements Sink.
func (s *LoggingSink) Succeeded(ctx context.Context, iteration int, reply string) {
	s.logger.Infow("Greeting: "+reply, "iteration", iteration)
}

// Failed implements Sink.
func (s *LoggingSink) Failed(ctx context.Context, iteration int, err error) {
	st := status.Convert(err)
	s.logger.Warnw("Error invoking greeting", "iteration", iteration, "code", st.Code().String(), "error", st.Message())
}
