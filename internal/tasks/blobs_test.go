package tasks

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
	tu "github.com/desertthunder/atx/internal/testing"
)

func newSyncer() *BlobSyncer {
	b := NewBlobSyncer(shared.TransferConfig{PageSize: 100, ProgressEvery: 10, ListingRetries: 2}, nil)
	b.retryDelay = 0
	return b
}

func syncPair(n int) (*tu.FakeNetwork, *tu.FakeEndpoint, *tu.FakeEndpoint) {
	net := tu.NewFakeNetwork()
	src := net.Add("src", oldHost)
	src.BlobOrder = cids(n)
	dst := net.Add("dst", newHost)
	dst.ExpectedCIDs = cids(n)
	return net, src, dst
}

func newRecord() *models.MigrationRecord {
	return models.NewMigrationRecord(0, testDID, testHandle, oldHost, newHost)
}

func TestBlobSyncer_Sync(t *testing.T) {
	ctx := context.Background()

	t.Run("Pages Through The Listing In Cursor Order", func(t *testing.T) {
		_, src, dst := syncPair(250)
		rec := &updateRecorder{}

		result, err := newSyncer().Sync(ctx, src, dst, testDID, 250, newRecord(), rec)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}

		if !slices.Equal(src.ListCursors, []string{"", "c1", "c2"}) {
			t.Errorf("expected listing cursors [\"\" c1 c2], got %q", src.ListCursors)
		}
		if len(dst.Uploaded) != 250 || result.Transferred != 250 || result.Pages != 3 {
			t.Errorf("expected 250 uploads over 3 pages, got %d uploads, %+v", len(dst.Uploaded), result)
		}
		if n := rec.countPrefix("Migrating blobs, page"); n != 3 {
			t.Errorf("expected one update per page, got %d", n)
		}
		if n := rec.countPrefix("Migrated "); n != 25 {
			t.Errorf("expected an update every 10 blobs, got %d", n)
		}
	})

	t.Run("Failure Is Isolated", func(t *testing.T) {
		_, src, dst := syncPair(100)
		all := cids(100)
		src.FailBlob = map[string]error{all[36]: errors.New("upstream 500")}
		rec := newRecord()

		result, err := newSyncer().Sync(ctx, src, dst, testDID, 100, rec, nil)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}

		if len(result.Failures) != 1 || result.Failures[0].CID != all[36] {
			t.Fatalf("expected blob 37 to fail, got %+v", result.Failures)
		}
		if len(dst.Uploaded) != 99 {
			t.Fatalf("expected 99 uploads, got %d", len(dst.Uploaded))
		}
		if string(dst.Uploaded[36].Data) != all[37] || string(dst.Uploaded[98].Data) != all[99] {
			t.Error("blobs after the failure should still be transferred in order")
		}
		if len(rec.MissingBlobs()) != 0 {
			t.Error("sync alone should leave the missing list to reconciliation")
		}
	})

	t.Run("Listing Retries Then Succeeds", func(t *testing.T) {
		_, src, dst := syncPair(5)
		src.ListErrs = []error{errors.New("502")}
		rec := newRecord()

		result, err := newSyncer().Sync(ctx, src, dst, testDID, 5, rec, nil)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if len(result.Gaps) != 0 || len(rec.ListingGaps()) != 0 || result.Transferred != 5 {
			t.Errorf("expected a clean run after one retry, got %+v", result)
		}
	})

	t.Run("Persistent Listing Failure Records A Gap", func(t *testing.T) {
		_, src, dst := syncPair(5)
		src.ListErrs = []error{errors.New("502"), errors.New("502"), errors.New("503")}
		rec := newRecord()
		obs := &updateRecorder{}

		result, err := newSyncer().Sync(ctx, src, dst, testDID, 5, rec, obs)
		if err != nil {
			t.Fatalf("listing gaps should not be fatal, got %v", err)
		}
		if len(src.ListCursors) != 3 {
			t.Errorf("expected 3 listing attempts, got %d", len(src.ListCursors))
		}
		gaps := rec.ListingGaps()
		if len(gaps) != 1 || gaps[0].Cursor != "" || gaps[0].Cause != "503" {
			t.Errorf("unexpected gaps %+v", gaps)
		}
		if len(result.Gaps) != 1 || result.Transferred != 0 {
			t.Errorf("unexpected result %+v", result)
		}
		if obs.countPrefix("Could not list blobs") != 1 {
			t.Error("expected a listing gap update")
		}
	})

	t.Run("Cancellation Stops Between Blobs", func(t *testing.T) {
		_, src, dst := syncPair(20)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		obs := ObserverFunc(func(u ProgressUpdate) {
			if u.Step == 10 {
				cancel()
			}
		})

		result, err := newSyncer().Sync(ctx, src, dst, testDID, 20, newRecord(), obs)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if result.Transferred != 10 || len(dst.Uploaded) != 10 {
			t.Errorf("expected to stop after 10 blobs, got %d", result.Transferred)
		}
	})

	t.Run("Content Type Fallback", func(t *testing.T) {
		_, src, dst := syncPair(1)
		cid := cids(1)[0]
		src.Blobs = map[string][]byte{cid: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")}
		src.BlobTypes = map[string]string{cid: ""}

		if _, err := newSyncer().Sync(ctx, src, dst, testDID, 1, newRecord(), nil); err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if got := dst.Uploaded[0].MimeType; got != "image/png" {
			t.Errorf("expected detected image/png, got %q", got)
		}
	})

	t.Run("Rate Limited", func(t *testing.T) {
		_, src, dst := syncPair(3)
		b := NewBlobSyncer(shared.TransferConfig{BlobRateLimit: 1000, BlobBurst: 0}, nil)
		if b.limiter == nil || b.limiter.Burst() != 1 {
			t.Fatal("expected a limiter with burst 1")
		}
		if b.pageSize != defaultPageSize || b.progressEvery != defaultProgressEvery {
			t.Errorf("expected defaults, got page %d every %d", b.pageSize, b.progressEvery)
		}

		if _, err := b.Sync(ctx, src, dst, testDID, 3, newRecord(), nil); err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if len(dst.Uploaded) != 3 {
			t.Errorf("expected 3 uploads, got %d", len(dst.Uploaded))
		}
	})
}

func TestBlobSyncer_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("Skipped When Counts Agree", func(t *testing.T) {
		net, src, dst := syncPair(2)
		for _, cid := range cids(2) {
			dst.Uploaded = append(dst.Uploaded, tu.UploadedBlob{Data: []byte(cid)})
		}

		result, err := newSyncer().Reconcile(ctx, src, dst, testDID, newRecord(), nil)
		if err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}
		if !result.Skipped {
			t.Error("expected reconciliation to be skipped")
		}
		if net.Log.Count("dst.ListMissingBlobs") != 0 {
			t.Error("listMissingBlobs must not be called when counts agree")
		}
	})

	t.Run("Recovers Transient Failures", func(t *testing.T) {
		_, src, dst := syncPair(3)
		all := cids(3)
		dst.Uploaded = []tu.UploadedBlob{{Data: []byte(all[0])}}
		src.FailBlobOnce = map[string]error{all[2]: errors.New("flaky")}
		rec := newRecord()

		// the first retry of all[2] fails, so it lands in the list
		result, err := newSyncer().Reconcile(ctx, src, dst, testDID, rec, nil)
		if err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}
		if result.Attempted != 2 || result.Recovered != 1 {
			t.Errorf("unexpected result %+v", result)
		}
		missing := rec.MissingBlobs()
		if len(missing) != 1 || missing[0].CID != all[2] {
			t.Errorf("expected %s in missing list, got %+v", all[2], missing)
		}
		if rec.BlobsExpected() != 3 || rec.BlobsImported() != 2 {
			t.Errorf("expected counts 3/2, got %d/%d", rec.BlobsExpected(), rec.BlobsImported())
		}

		// a second pass picks it up
		rec2 := newRecord()
		if _, err := newSyncer().Reconcile(ctx, src, dst, testDID, rec2, nil); err != nil {
			t.Fatalf("second Reconcile failed: %v", err)
		}
		if len(rec2.MissingBlobs()) != 0 {
			t.Errorf("expected the blob to be recovered, got %+v", rec2.MissingBlobs())
		}
	})

	t.Run("Pages Through Missing List", func(t *testing.T) {
		_, src, dst := syncPair(150)
		b := newSyncer()

		result, err := b.Reconcile(ctx, src, dst, testDID, newRecord(), nil)
		if err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}
		if !slices.Equal(dst.MissingCursors, []string{"", "c1"}) {
			t.Errorf("unexpected missing cursors %q", dst.MissingCursors)
		}
		if result.Attempted != 150 || result.Recovered != 150 {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("Status Failure Is Fatal", func(t *testing.T) {
		_, src, dst := syncPair(1)
		dst.Errs = map[string]error{"CheckAccountStatus": errors.New("down")}

		if _, err := newSyncer().Reconcile(ctx, src, dst, testDID, newRecord(), nil); err == nil {
			t.Error("expected an error")
		}
	})
}
