// Package testutils holds helpers shared by the tests of the greeter packages.
package testutils

import (
	"go.uber.org/goleak"
)

// VerifyTestMain runs the tests and fails if any goroutine outlives them.
func VerifyTestMain(m goleak.TestingM) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
		// lumberjack keeps one mill goroutine per file appender
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}
