package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/atx/internal/formatter"
	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
	"github.com/urfave/cli/v3"
)

type statusRow struct {
	ID            string     `json:"id"`
	Sequence      int        `json:"sequence"`
	DID           string     `json:"did"`
	SourceHandle  string     `json:"sourceHandle"`
	SourceHost    string     `json:"sourceHost"`
	TargetHost    string     `json:"targetHost"`
	State         string     `json:"state"`
	BlobsExpected int        `json:"blobsExpected"`
	BlobsImported int        `json:"blobsImported"`
	MissingBlobs  int        `json:"missingBlobs"`
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func newStatusRow(rec *models.MigrationRecord) statusRow {
	return statusRow{
		ID:            rec.ID(),
		Sequence:      rec.Sequence(),
		DID:           rec.DID(),
		SourceHandle:  rec.SourceHandle(),
		SourceHost:    rec.SourceHost(),
		TargetHost:    rec.TargetHost(),
		State:         rec.State().String(),
		BlobsExpected: rec.BlobsExpected(),
		BlobsImported: rec.BlobsImported(),
		MissingBlobs:  len(rec.MissingBlobs()),
		Error:         rec.ErrorMessage(),
		StartedAt:     rec.StartedAt(),
		CompletedAt:   rec.CompletedAt(),
		UpdatedAt:     rec.UpdatedAt(),
	}
}

// Status lists recorded migrations, newest first.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	repo, err := r.repository()
	if err != nil {
		return err
	}

	criteria := map[string]any{"limit": cmd.Int("limit")}
	if did := cmd.String("did"); did != "" {
		criteria["did"] = did
	}
	if to := cmd.String("to"); to != "" {
		criteria["target_host"] = shared.NormalizeHost(to)
	}

	records, err := repo.List(criteria)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		rows := make([]statusRow, len(records))
		for i, rec := range records {
			rows[i] = newStatusRow(rec)
		}
		return r.writeJSON(rows, true)
	}

	if len(records) == 0 {
		r.writePlain("No migrations recorded.\n")
		return nil
	}

	for _, rec := range records {
		r.writePlain("#%d %s (%s)\n", rec.Sequence(), rec.SourceHandle(), rec.DID())
		r.writePlain("   %s -> %s\n", rec.SourceHost(), rec.TargetHost())
		r.writePlain("   state: %s, blobs: %d/%d, missing: %d\n",
			rec.State(), rec.BlobsImported(), rec.BlobsExpected(), len(rec.MissingBlobs()))
		if msg := rec.ErrorMessage(); msg != "" {
			r.writePlain("   error: %s\n", msg)
		}
	}
	return nil
}

// Missing renders the missing-blob report of the latest matching migration.
func (r *Runner) Missing(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	repo, err := r.repository()
	if err != nil {
		return err
	}

	did := cmd.String("did")
	var rec *models.MigrationRecord
	if to := cmd.String("to"); to != "" {
		rec, err = repo.Latest(did, shared.NormalizeHost(to))
	} else {
		var records []*models.MigrationRecord
		records, err = repo.List(map[string]any{"did": did, "limit": 1})
		if len(records) > 0 {
			rec = records[0]
		}
	}
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: no migration recorded for %s", shared.ErrNotFound, did)
	}

	output := cmd.String("output")
	if output == "-" {
		data, err := formatter.Render(rec, format)
		if err != nil {
			return err
		}
		if _, err := r.output.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	path, err := formatter.WriteReport(rec, format, output)
	if err != nil {
		return err
	}
	r.writePlain("✓ %d missing blobs written to %s\n", len(rec.MissingBlobs()), path)
	return nil
}

