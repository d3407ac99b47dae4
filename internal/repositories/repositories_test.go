package repositories

import (
	"database/sql"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	shared.ConfigureDatabase(db, 1, 1)
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func newRecord(did, target string) *models.MigrationRecord {
	return models.NewMigrationRecord(0, did, "alice.test", "https://old.test", target)
}

func TestMigrationRepository(t *testing.T) {
	t.Run("Create And Get", func(t *testing.T) {
		repo := NewMigrationRepository(setupTestDB(t))

		rec := newRecord("did:plc:alice", "https://new.test")
		rec.SetTargetHandle("alice.new.test")
		rec.SetTargetEmail("alice@new.test")
		rec.Advance(models.RepoImported)
		rec.SetBlobCounts(12, 10)
		rec.AddMissingBlob(models.MissingBlob{CID: "bafyb", MimeType: "image/png", Stage: models.StageReconcile, Cause: "timeout"})
		rec.AddMissingBlob(models.MissingBlob{CID: "bafya", Stage: models.StageReconcile, Cause: "not found"})
		rec.AddListingGap(models.ListingGap{Cursor: "c3", Cause: "503"})

		if err := repo.Create(rec); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if rec.ID() == "" {
			t.Fatal("expected generated ID")
		}
		if rec.Sequence() != 1 {
			t.Errorf("expected sequence 1, got %d", rec.Sequence())
		}

		got, err := repo.Get(rec.ID())
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.DID() != "did:plc:alice" || got.TargetHost() != "https://new.test" {
			t.Errorf("unexpected identity: %s -> %s", got.DID(), got.TargetHost())
		}
		if got.TargetHandle() != "alice.new.test" || got.TargetEmail() != "alice@new.test" {
			t.Errorf("unexpected target account: %s %s", got.TargetHandle(), got.TargetEmail())
		}
		if got.State() != models.RepoImported {
			t.Errorf("expected state %s, got %s", models.RepoImported, got.State())
		}
		if got.BlobsExpected() != 12 || got.BlobsImported() != 10 {
			t.Errorf("unexpected counts %d/%d", got.BlobsImported(), got.BlobsExpected())
		}

		missing := got.MissingBlobs()
		if len(missing) != 2 {
			t.Fatalf("expected 2 missing blobs, got %d", len(missing))
		}
		if missing[0].CID != "bafyb" || missing[1].CID != "bafya" {
			t.Errorf("missing blobs out of order: %+v", missing)
		}
		if missing[0].MimeType != "image/png" || missing[0].Cause != "timeout" {
			t.Errorf("unexpected first entry: %+v", missing[0])
		}

		gaps := got.ListingGaps()
		if len(gaps) != 1 || gaps[0].Cursor != "c3" {
			t.Errorf("unexpected gaps: %+v", gaps)
		}
	})

	t.Run("Create Invalid", func(t *testing.T) {
		repo := NewMigrationRepository(setupTestDB(t))

		err := repo.Create(newRecord("", "https://new.test"))
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Get Not Found", func(t *testing.T) {
		repo := NewMigrationRepository(setupTestDB(t))

		_, err := repo.Get("nope")
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Update Replaces Children", func(t *testing.T) {
		repo := NewMigrationRepository(setupTestDB(t))

		rec := newRecord("did:plc:alice", "https://new.test")
		rec.AddMissingBlob(models.MissingBlob{CID: "bafya", Stage: models.StageSync, Cause: "boom"})
		if err := repo.Create(rec); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		rec.ClearMissingBlobs()
		rec.AddMissingBlob(models.MissingBlob{CID: "bafyc", Stage: models.StageReconcile, Cause: "gone"})
		rec.Advance(models.Complete)
		rec.SetErrorMessage("")
		if err := repo.Update(rec); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		got, err := repo.Get(rec.ID())
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.State() != models.Complete {
			t.Errorf("expected complete, got %s", got.State())
		}
		if got.CompletedAt() == nil {
			t.Error("expected completed_at to be persisted")
		}
		missing := got.MissingBlobs()
		if len(missing) != 1 || missing[0].CID != "bafyc" {
			t.Errorf("expected children replaced, got %+v", missing)
		}
	})

	t.Run("Completed Steps Round Trip", func(t *testing.T) {
		repo := NewMigrationRepository(setupTestDB(t))

		rec := newRecord("did:plc:alice", "https://new.test")
		rec.MarkDone(models.StepPlc)
		rec.MarkDone(models.StepCreateAccount)
		if err := repo.Create(rec); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		got, err := repo.Get(rec.ID())
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if !got.Done(models.StepCreateAccount) || !got.Done(models.StepPlc) || got.Done(models.StepRepo) {
			t.Errorf("unexpected steps after create: %v", got.CompletedSteps())
		}

		got.MarkDone(models.StepPrefs)
		if err := repo.Update(got); err != nil {
			t.Fatalf("update failed: %v", err)
		}
		again, err := repo.Get(rec.ID())
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		want := []models.Step{models.StepCreateAccount, models.StepPrefs, models.StepPlc}
		if !slices.Equal(again.CompletedSteps(), want) {
			t.Errorf("expected %v, got %v", want, again.CompletedSteps())
		}
	})

	t.Run("Update Missing Row", func(t *testing.T) {
		repo := NewMigrationRepository(setupTestDB(t))

		rec := newRecord("did:plc:alice", "https://new.test")
		rec.SetID("ghost")
		if err := repo.Update(rec); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := NewMigrationRepository(setupTestDB(t))

		rec := newRecord("did:plc:alice", "https://new.test")
		if err := repo.Create(rec); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if err := repo.Delete(rec.ID()); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, err := repo.Get(rec.ID()); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected deleted record to be hidden, got %v", err)
		}
		if err := repo.Delete(rec.ID()); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected second delete to fail, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := NewMigrationRepository(setupTestDB(t))

		for _, r := range []*models.MigrationRecord{
			newRecord("did:plc:alice", "https://new.test"),
			newRecord("did:plc:bob", "https://new.test"),
			newRecord("did:plc:alice", "https://other.test"),
		} {
			if err := repo.Create(r); err != nil {
				t.Fatalf("create failed: %v", err)
			}
		}

		tests := []struct {
			name     string
			criteria map[string]any
			want     int
		}{
			{"all", map[string]any{}, 3},
			{"by did", map[string]any{"did": "did:plc:alice"}, 2},
			{"by target", map[string]any{"target_host": "https://new.test"}, 2},
			{"by state", map[string]any{"state": models.NotStarted.String()}, 3},
			{"by state none", map[string]any{"state": models.Complete.String()}, 0},
			{"limit", map[string]any{"limit": 1}, 1},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repo.List(tt.criteria)
				if err != nil {
					t.Fatalf("list failed: %v", err)
				}
				if len(got) != tt.want {
					t.Errorf("expected %d records, got %d", tt.want, len(got))
				}
			})
		}

		all, _ := repo.List(map[string]any{})
		if all[0].Sequence() < all[len(all)-1].Sequence() {
			t.Error("expected newest first")
		}
	})
}

func TestStateStore(t *testing.T) {
	t.Run("Latest Empty", func(t *testing.T) {
		store := NewStateStore(NewMigrationRepository(setupTestDB(t)))

		rec, err := store.Latest("did:plc:alice", "https://new.test")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec != nil {
			t.Errorf("expected nil record, got %+v", rec)
		}
	})

	t.Run("Save Creates Then Updates", func(t *testing.T) {
		store := NewStateStore(NewMigrationRepository(setupTestDB(t)))

		now := time.Now()
		rec := newRecord("did:plc:alice", "https://new.test")
		rec.SetStartedAt(&now)
		if err := store.Save(rec); err != nil {
			t.Fatalf("first save failed: %v", err)
		}
		id := rec.ID()

		rec.Advance(models.BlobsImported)
		if err := store.Save(rec); err != nil {
			t.Fatalf("second save failed: %v", err)
		}
		if rec.ID() != id {
			t.Errorf("expected ID to be stable, got %s then %s", id, rec.ID())
		}

		latest, err := store.Latest("did:plc:alice", "https://new.test")
		if err != nil {
			t.Fatalf("latest failed: %v", err)
		}
		if latest == nil || latest.ID() != id {
			t.Fatalf("expected latest to be %s, got %+v", id, latest)
		}
		if latest.State() != models.BlobsImported {
			t.Errorf("expected %s, got %s", models.BlobsImported, latest.State())
		}
		if latest.StartedAt() == nil {
			t.Error("expected started_at to round trip")
		}
	})

	t.Run("Latest Picks Newest", func(t *testing.T) {
		store := NewStateStore(NewMigrationRepository(setupTestDB(t)))

		first := newRecord("did:plc:alice", "https://new.test")
		second := newRecord("did:plc:alice", "https://new.test")
		second.Advance(models.AccountCreated)
		for _, r := range []*models.MigrationRecord{first, second} {
			if err := store.Save(r); err != nil {
				t.Fatalf("save failed: %v", err)
			}
		}

		latest, err := store.Latest("did:plc:alice", "https://new.test")
		if err != nil {
			t.Fatalf("latest failed: %v", err)
		}
		if latest.ID() != second.ID() {
			t.Errorf("expected newest record, got sequence %d", latest.Sequence())
		}
	})
}
