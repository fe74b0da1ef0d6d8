// Package main runs the greeter server.
package main

import (
	"context"
	"os"

	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/config"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/greeter/server"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
)

var logger = logging.NewLogger("greeter_server")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command. Everything else is read from the environment.
type Arguments struct {
	ConfigFile string `flag:"config,usage=JSON config file; overrides GREETER_CONFIG"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg, err := config.ReadServerConfig(lookupWithConfigFile(argsParsed.ConfigFile))
	if err != nil {
		return err
	}
	flush, err := cfg.Logging.Apply(logger)
	if err != nil {
		return err
	}
	logging.ReplaceGlobal(logger)
	defer func() {
		err = multierr.Combine(err, flush())
	}()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}
	logger.Infow("Starting server", "address", srv.Addr().String(), "security", cfg.Security.String())
	utils.ContextMainReadyFunc(ctx)()
	return srv.Serve(ctx)
}

func lookupWithConfigFile(path string) config.LookupFunc {
	return func(key string) (string, bool) {
		if key == config.EnvConfigFile && path != "" {
			return path, true
		}
		return os.LookupEnv(key)
	}
}
