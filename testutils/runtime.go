package testutils

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
	"go.viam.com/utils"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
)

// MainFunc is the signature of a command's mainWithArgs.
type MainFunc func(ctx context.Context, args []string, logger logging.Logger) error

// ContextualMainExecution reflects the execution of a main function
// that can have its lifecycle partially controlled.
type ContextualMainExecution struct {
	Ready      <-chan struct{}
	Done       <-chan error
	Stop       func()
	QuitSignal func(t *testing.T) // reflects syscall.SIGQUIT
}

// ContextualMain calls a main entry point function with a cancellable
// context via the returned execution struct. The main function is run
// in a separate goroutine.
func ContextualMain(main MainFunc, args []string, logger logging.Logger) ContextualMainExecution {
	ctx, stop := context.WithCancel(context.Background())
	quitC := make(chan os.Signal)
	ctx = utils.ContextWithQuitSignal(ctx, quitC)
	readyC := make(chan struct{}, 1)
	ctx = utils.ContextWithReadyFunc(ctx, readyC)
	readyF := utils.ContextMainReadyFunc(ctx)
	doneC := make(chan error, 1)

	mainDone := make(chan struct{})
	var err error
	go func() {
		// a main that returns without signaling is ready once it is done
		defer readyF()
		defer close(mainDone)
		err = main(ctx, append([]string{"main"}, args...), logger)
		doneC <- err
	}()
	return ContextualMainExecution{
		Ready: readyC,
		Done:  doneC,
		Stop:  stop,
		QuitSignal: func(t *testing.T) {
			t.Helper()
			select {
			case <-mainDone:
				if err != nil {
					t.Fatalf("main function completed while waiting to send quit signal with error: %v", err)
				}
				t.Fatal("main function completed while waiting to send quit signal")
			case quitC <- syscall.SIGQUIT:
			}
		},
	}
}

// MainTestCase describes how to execute a main function and what
// to expect from it.
type MainTestCase struct {
	Name   string
	Args   []string
	Err    string
	Before func(t *testing.T, logger logging.Logger)
	During func(ctx context.Context, t *testing.T, exec *ContextualMainExecution)
	After  func(t *testing.T, logs *observer.ObservedLogs)
}

var errCompletedBeforeExpected = errors.New("main function completed before expected")

// TestMain tests a main function with a series of test cases in serial.
func TestMain(t *testing.T, mainWithArgs MainFunc, tcs []MainTestCase) {
	t.Helper()
	for i, tc := range tcs {
		testCaseName := tc.Name
		if testCaseName == "" {
			testCaseName = fmt.Sprintf("%d", i)
		}
		t.Run(testCaseName, func(t *testing.T) {
			logger, logs := logging.NewObservedTestLogger(t)
			if tc.Before != nil {
				tc.Before(t, logger)
			}
			exec := ContextualMain(mainWithArgs, tc.Args, logger)
			<-exec.Ready

			var waitMu sync.Mutex
			waitingInDuring := tc.During != nil
			var completedEarly bool
			duringCtx, cancel := context.WithCancel(context.Background())
			defer cancel()

			done := make(chan error, 1)
			go func() {
				err := utils.FilterOutError(<-exec.Done, context.Canceled)
				waitMu.Lock()
				if waitingInDuring {
					completedEarly = true
					cancel()
				}
				waitMu.Unlock()
				done <- err
			}()

			if tc.During != nil {
				tc.During(duringCtx, t, &exec)
				waitMu.Lock()
				early := completedEarly
				waitingInDuring = false
				waitMu.Unlock()
				if early {
					err := <-done
					if err == nil {
						t.Fatal(errCompletedBeforeExpected)
					}
					t.Fatalf("%s with error: %v", errCompletedBeforeExpected, err)
				}
			}
			exec.Stop()
			err := <-done
			if tc.Err == "" {
				test.That(t, err, test.ShouldBeNil)
			} else {
				test.That(t, err, test.ShouldNotBeNil)
				test.That(t, err.Error(), test.ShouldContainSubstring, tc.Err)
			}
			if tc.After != nil {
				tc.After(t, logs)
			}
		})
	}
}
