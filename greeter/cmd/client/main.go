// Package main runs the greeter client.
package main

import (
	"context"
	"os"

	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/config"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/greeter/client"
	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
)

var logger = logging.NewLogger("greeter_client")

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

	cfg, err := config.ReadClientConfig(func(key string) (string, bool) {
		if key == config.EnvConfigFile && argsParsed.ConfigFile != "" {
			return argsParsed.ConfigFile, true
		}
		return os.LookupEnv(key)
	})
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

	_, err = client.Run(ctx, cfg, logger)
	return err
}
