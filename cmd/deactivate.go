package main

import (
	"context"

	"github.com/desertthunder/atx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Deactivate finds the PDS that hosted the account before its current one and deactivates the account there.
func (r *Runner) Deactivate(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.engine()
	if err != nil {
		return err
	}

	opts := tasks.DeactivateOptions{
		Handle:     cmd.String("handle"),
		Password:   cmd.String("password"),
		AuthFactor: cmd.String("auth-factor"),
		Observer:   r.progressPrinter(),
	}

	result, err := engine.Deactivate(ctx, opts)
	if err != nil {
		r.hintAuthFactor(err)
		return err
	}

	r.writePlain("\n✓ Deactivated %s on %s\n", result.DID, result.PriorHost)
	r.writePlain("Current PDS: %s\n", result.CurrentHost)
	return nil
}
