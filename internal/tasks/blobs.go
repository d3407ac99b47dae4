package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/services"
	"github.com/desertthunder/atx/internal/shared"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"
)

const (
	defaultPageSize      = 100
	defaultProgressEvery = 10
	defaultRetryDelay    = 500 * time.Millisecond
	genericContentType   = "application/octet-stream"
)

// BlobFailure is a blob the main sync could not transfer.
type BlobFailure struct {
	CID   string
	Cause string
}

// SyncResult summarizes one pass over the source blob listing.
type SyncResult struct {
	Pages       int
	Listed      int
	Transferred int
	Failures    []BlobFailure
	Gaps        []models.ListingGap
}

// ReconcileResult summarizes a reconciliation pass.
type ReconcileResult struct {
	// Skipped is true when the destination already had every expected blob.
	Skipped   bool
	Attempted int
	Recovered int
	Status    *models.AccountStatus
}

// BlobSyncer copies blobs between two endpoints one at a time.
type BlobSyncer struct {
	pageSize       int
	progressEvery  int
	listingRetries int
	retryDelay     time.Duration
	limiter        *rate.Limiter
	logger         *log.Logger
}

// NewBlobSyncer creates a syncer from transfer settings. Non-positive sizes fall back to 100 per page and progress every 10.
func NewBlobSyncer(cfg shared.TransferConfig, logger *log.Logger) *BlobSyncer {
	if logger == nil {
		logger = shared.NewDiscardLogger()
	}
	b := &BlobSyncer{
		pageSize:       cfg.PageSize,
		progressEvery:  cfg.ProgressEvery,
		listingRetries: cfg.ListingRetries,
		retryDelay:     defaultRetryDelay,
		logger:         logger,
	}
	if b.pageSize <= 0 {
		b.pageSize = defaultPageSize
	}
	if b.progressEvery <= 0 {
		b.progressEvery = defaultProgressEvery
	}
	if b.listingRetries < 0 {
		b.listingRetries = 0
	}
	if cfg.BlobRateLimit > 0 {
		burst := max(cfg.BlobBurst, 1)
		b.limiter = rate.NewLimiter(rate.Limit(cfg.BlobRateLimit), burst)
	}
	return b
}

// Sync transfers every blob in the source listing of did to dst.
//
// A failed blob is logged and reported in the result without stopping the run. A listing page that keeps failing
// after the configured retries is recorded as a gap on rec and ends the listing. Only cancellation is fatal.
func (b *BlobSyncer) Sync(
	ctx context.Context,
	src, dst services.Endpoint,
	did string,
	expected int,
	rec *models.MigrationRecord,
	obs Observer,
) (*SyncResult, error) {
	obs = observerOrNop(obs)
	result := &SyncResult{}
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		cids, next, err := b.listPage(ctx, src, did, cursor)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			gap := models.ListingGap{Cursor: cursor, Cause: err.Error(), RecordedAt: time.Now()}
			result.Gaps = append(result.Gaps, gap)
			if rec != nil {
				rec.AddListingGap(gap)
			}
			b.logger.Warn("blob listing failed, stopping listing", "did", did, "cursor", cursor, "err", err)
			obs.Notify(listingGapUpdate(gap))
			return result, nil
		}

		result.Pages++
		result.Listed += len(cids)
		obs.Notify(blobPageUpdate(result.Pages, result.Transferred, expected))

		for _, cid := range cids {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if b.limiter != nil {
				if err := b.limiter.Wait(ctx); err != nil {
					return result, err
				}
			}

			if _, err := b.transfer(ctx, src, dst, did, cid); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return result, ctxErr
				}
				b.logger.Warn("blob transfer failed", "cid", cid, "err", err)
				result.Failures = append(result.Failures, BlobFailure{CID: cid, Cause: err.Error()})
				continue
			}

			result.Transferred++
			if result.Transferred%b.progressEvery == 0 {
				obs.Notify(blobProgressUpdate(result.Transferred, expected))
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	b.logger.Info("blob sync complete",
		"did", did, "pages", result.Pages, "transferred", result.Transferred, "failed", len(result.Failures))
	return result, nil
}

// listPage reads one listing page, retrying failures with exponential backoff up to the configured retry count.
func (b *BlobSyncer) listPage(ctx context.Context, src services.Endpoint, did, cursor string) ([]string, string, error) {
	var (
		cids []string
		next string
	)
	list := func() error {
		var err error
		cids, next, err = src.ListBlobs(ctx, did, cursor, b.pageSize)
		return err
	}
	retrying := func(err error, wait time.Duration) {
		b.logger.Debug("retrying blob listing", "cursor", cursor, "wait", wait, "err", err)
	}

	if err := backoff.RetryNotify(list, b.listingBackOff(ctx), retrying); err != nil {
		return nil, "", err
	}
	return cids, next, nil
}

func (b *BlobSyncer) listingBackOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.retryDelay
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(b.listingRetries)), ctx)
}

// transfer copies one blob and returns the content type it was uploaded with.
func (b *BlobSyncer) transfer(ctx context.Context, src, dst services.Endpoint, did, cid string) (string, error) {
	blob, err := src.GetBlob(ctx, did, cid)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}

	mimeType := blob.MimeType
	if mimeType == "" || mimeType == genericContentType {
		mimeType = mimetype.Detect(blob.Data).String()
	}

	if err := dst.UploadBlob(ctx, blob.Data, mimeType); err != nil {
		return mimeType, fmt.Errorf("upload: %w", err)
	}
	return mimeType, nil
}

// Reconcile retries the blobs the destination still reports missing.
//
// Nothing is listed when the destination's expected and imported counts already agree. Every missing entry gets
// one more transfer attempt; entries that fail again are added to rec's missing list.
func (b *BlobSyncer) Reconcile(
	ctx context.Context,
	src, dst services.Endpoint,
	did string,
	rec *models.MigrationRecord,
	obs Observer,
) (*ReconcileResult, error) {
	obs = observerOrNop(obs)

	status, err := dst.CheckAccountStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read destination account status: %w", err)
	}
	rec.SetBlobCounts(status.ExpectedBlobs, status.ImportedBlobs)

	result := &ReconcileResult{Status: status}
	if status.BlobsComplete() {
		result.Skipped = true
		obs.Notify(reconcileDoneUpdate(status, 0))
		return result, nil
	}

	var missing []models.BlobRef
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		page, next, err := dst.ListMissingBlobs(ctx, cursor, b.pageSize)
		if err != nil {
			return result, fmt.Errorf("failed to list missing blobs: %w", err)
		}
		missing = append(missing, page...)
		if next == "" || next == cursor {
			break
		}
		cursor = next
	}

	for i, ref := range missing {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return result, err
			}
		}

		obs.Notify(reconcileUpdate(i+1, len(missing), ref.CID))
		result.Attempted++

		mimeType, err := b.transfer(ctx, src, dst, did, ref.CID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			b.logger.Warn("missing blob still failing", "cid", ref.CID, "record", ref.RecordURI, "err", err)
			if mimeType == "" {
				mimeType = ref.MimeType
			}
			rec.AddMissingBlob(models.MissingBlob{
				CID:      ref.CID,
				MimeType: mimeType,
				Stage:    models.StageReconcile,
				Cause:    err.Error(),
			})
			continue
		}
		result.Recovered++
	}

	if after, err := dst.CheckAccountStatus(ctx); err == nil {
		result.Status = after
		rec.SetBlobCounts(after.ExpectedBlobs, after.ImportedBlobs)
	} else {
		b.logger.Warn("could not re-read account status after reconciliation", "err", err)
	}

	obs.Notify(reconcileDoneUpdate(result.Status, len(rec.MissingBlobs())))
	return result, nil
}
