// Package driver repeatedly calls the greeter, one call at a time, tolerating failures.
package driver

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.opencensus.io/trace"
	"go.viam.com/utils"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
)

// Caller makes a single greeting call. *greeter.Client satisfies it.
type Caller interface {
	SayHello(ctx context.Context, name string) (string, error)
}

// Options configure a Driver.
type Options struct {
	// Iterations is the number of calls to make. Zero means call until the context is done.
	Iterations int
	// Delay is waited between consecutive calls.
	Delay time.Duration
	// Name is sent with every call.
	Name string

	Clock  clock.Clock
	Logger logging.Logger
	// Sink receives the outcome of every call. Defaults to a LoggingSink over Logger.
	Sink Sink
}

// Stats summarizes a run.
type Stats struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Driver issues a sequential stream of calls.
type Driver struct {
	caller Caller
	opts   Options
}

// New returns a Driver calling caller.
func New(caller Caller, opts Options) *Driver {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Global().Sublogger("driver")
	}
	if opts.Sink == nil {
		opts.Sink = NewLoggingSink(opts.Logger)
	}
	return &Driver{caller: caller, opts: opts}
}

// Run makes the configured number of calls. A failed call is reported to the sink and the next
// call is still made. Run only returns an error when ctx is done before all calls were made; a
// call cut off by ctx is neither counted nor reported.
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	for i := 0; d.opts.Iterations == 0 || i < d.opts.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		d.callOnce(ctx, i, &stats)
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if d.opts.Iterations != 0 && i == d.opts.Iterations-1 {
			break
		}
		if d.opts.Delay > 0 && !utils.SelectContextOrWaitChan(ctx, d.opts.Clock.After(d.opts.Delay)) {
			return stats, ctx.Err()
		}
	}
	return stats, nil
}

func (d *Driver) callOnce(ctx context.Context, iteration int, stats *Stats) {
	ctx, span := trace.StartSpan(ctx, "driver::Run::SayHello")
	defer span.End()
	span.AddAttributes(trace.Int64Attribute("iteration", int64(iteration)))

	reply, err := d.caller.SayHello(ctx, d.opts.Name)
	if err != nil && ctx.Err() != nil {
		// cut off by shutdown, not a failed call
		span.SetStatus(trace.Status{Code: trace.StatusCodeCancelled, Message: ctx.Err().Error()})
		return
	}
	stats.Attempted++
	if err != nil {
		stats.Failed++
		span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
		d.opts.Sink.Failed(ctx, iteration, err)
		return
	}
	stats.Succeeded++
	d.opts.Sink.Succeeded(ctx, iteration, reply)
}
