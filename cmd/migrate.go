package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/atx/internal/formatter"
	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
	"github.com/urfave/cli/v3"
)

// Migrate copies the account to the destination PDS and stops after requesting the handover token.
func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	opts := migrateOptions(cmd)
	opts.Observer = r.progressPrinter()

	var format formatter.Format
	if f := cmd.String("report"); f != "" {
		var err error
		if format, err = formatter.ParseFormat(f); err != nil {
			return err
		}
	}

	engine, err := r.engine()
	if err != nil {
		return err
	}

	r.logger.Info("starting migration", "handle", opts.SourceHandle, "to", opts.DestinationHost)
	r.writePlain("Migrating %s to %s...\n\n", shared.NormalizeHandle(opts.SourceHandle), shared.NormalizeHost(opts.DestinationHost))

	session, err := engine.Migrate(ctx, opts)
	if session != nil {
		r.printSession(session.Record)
		if format != "" && len(session.MissingBlobs()) > 0 {
			path, werr := formatter.WriteReport(session.Record, format, cmd.String("output"))
			if werr != nil {
				r.logger.Warn("failed to write missing blob report", "error", werr)
			} else {
				r.writePlain("\nMissing blob report written to %s\n", path)
			}
		}
	}
	if err != nil {
		r.hintAuthFactor(err)
		return err
	}

	if session.Record.State() == models.HandoverRequested {
		r.writePlainln("Next steps:")
		r.writePlain("1. Check the email for %s for a PLC operation token\n", session.Record.SourceHandle())
		r.writePlain("2. Run 'atx handover --handle %s --to %s --token <TOKEN>'\n", session.Record.SourceHandle(), session.Record.TargetHost())
	}
	return nil
}

// printSession writes the outcome of a workflow run, including any missing blobs.
func (r *Runner) printSession(rec *models.MigrationRecord) {
	r.writePlain("\n")
	r.writePlainHeader(fmt.Sprintf("Migration %s", rec.State()))
	r.writePlain("Account: %s (%s)\n", rec.SourceHandle(), rec.DID())
	r.writePlain("From: %s\n", rec.SourceHost())
	r.writePlain("To: %s\n", rec.TargetHost())
	if rec.BlobsExpected() > 0 || rec.BlobsImported() > 0 {
		r.writePlain("Blobs: %d/%d imported\n", rec.BlobsImported(), rec.BlobsExpected())
	}
	if msg := rec.ErrorMessage(); msg != "" {
		r.writePlain("Last error: %s\n", msg)
	}

	for _, g := range rec.ListingGaps() {
		r.writePlain("\n⚠ Listing stopped after cursor %q: %s\n", g.Cursor, g.Cause)
	}

	if missing := rec.MissingBlobs(); len(missing) > 0 {
		r.writePlain("\nFailed to migrate %d blobs:\n", len(missing))
		for _, mb := range missing {
			r.writePlain("  - %s (%s: %s)\n", mb.CID, mb.Stage, mb.Cause)
		}
	}
}

func (r *Runner) hintAuthFactor(err error) {
	if errors.Is(err, shared.ErrAuthFactorRequired) {
		r.writePlainln("The source PDS emailed a sign-in code. Run the command again with --auth-factor <CODE>.")
	}
}

