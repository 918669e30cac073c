package main

import (
	"context"

	"github.com/desertthunder/cuedeck/internal/services"
	"github.com/urfave/cli/v3"
)

// APICall sends the subcommand's method to a backend path and prints the unwrapped payload.
func (r *Runner) APICall(ctx context.Context, cmd *cli.Command) error {
	path, err := requireArg(cmd, "path")
	if err != nil {
		return err
	}
	gw, _, err := r.session()
	if err != nil {
		return err
	}

	r.logger.Debug("api request", "method", cmd.Name, "path", path)

	resp, err := services.NewAPIService(gw).Call(ctx, cmd.Name, path, []byte(cmd.String("data")))
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", resp.Pretty())
}
