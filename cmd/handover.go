package main

import (
	"context"

	"github.com/desertthunder/atx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Handover signs the PLC operation with the emailed token, activates the destination and deactivates the source.
func (r *Runner) Handover(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.engine()
	if err != nil {
		return err
	}

	opts := tasks.HandoverOptions{
		SourceHandle:    cmd.String("handle"),
		Password:        cmd.String("password"),
		DestinationHost: cmd.String("to"),
		AuthFactor:      cmd.String("auth-factor"),
		Token:           cmd.String("token"),
		Observer:        r.progressPrinter(),
	}

	r.logger.Info("starting handover", "handle", opts.SourceHandle, "to", opts.DestinationHost)

	session, err := engine.Handover(ctx, opts)
	if session != nil {
		r.printSession(session.Record)
	}
	if err != nil {
		r.hintAuthFactor(err)
		return err
	}

	r.writePlainln("✓ %s now lives on %s", session.Record.DID(), session.Record.TargetHost())
	return nil
}
