package tasks

import (
	"fmt"

	"github.com/desertthunder/atx/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Workflow phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase, 0 when unknown
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Workflow phase enumeration
type Phase int

const (
	ResolveIdentity Phase = iota
	AuthenticateSource
	CheckDestination
	CreateAccount
	AuthenticateDestination
	MigrateRepo
	MigrateBlobs
	ReconcileBlobs
	MigratePrefs
	RequestHandover
	SignHandover
	ActivateDestination
	DeactivateSource
	FindPriorEndpoint
	DeactivatePrior
	Finished
)

func (p Phase) String() string {
	switch p {
	case ResolveIdentity:
		return "resolve_identity"
	case AuthenticateSource:
		return "authenticate_source"
	case CheckDestination:
		return "check_destination"
	case CreateAccount:
		return "create_account"
	case AuthenticateDestination:
		return "authenticate_destination"
	case MigrateRepo:
		return "migrate_repo"
	case MigrateBlobs:
		return "migrate_blobs"
	case ReconcileBlobs:
		return "reconcile_blobs"
	case MigratePrefs:
		return "migrate_prefs"
	case RequestHandover:
		return "request_handover"
	case SignHandover:
		return "sign_handover"
	case ActivateDestination:
		return "activate_destination"
	case DeactivateSource:
		return "deactivate_source"
	case FindPriorEndpoint:
		return "find_prior_endpoint"
	case DeactivatePrior:
		return "deactivate_prior"
	case Finished:
		return "finished"
	default:
		return ""
	}
}

// Observer receives progress updates. Implementations must not block the workflow.
type Observer interface {
	Notify(update ProgressUpdate)
}

// ObserverFunc adapts a function to [Observer].
type ObserverFunc func(ProgressUpdate)

func (f ObserverFunc) Notify(u ProgressUpdate) { f(u) }

// ChannelObserver forwards updates to a channel, dropping them when the channel is full.
type ChannelObserver chan<- ProgressUpdate

func (c ChannelObserver) Notify(u ProgressUpdate) {
	if c == nil {
		return
	}
	select {
	case c <- u:
	default:
	}
}

// NopObserver discards every update.
type NopObserver struct{}

func (NopObserver) Notify(ProgressUpdate) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return NopObserver{}
	}
	return o
}

func phaseUpdate(p Phase, msg string) ProgressUpdate {
	return ProgressUpdate{Phase: p, Step: 1, Total: 1, Message: msg}
}

func resolvedUpdate(handle, did, host string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ResolveIdentity,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Resolved %s to %s on %s", handle, did, host),
	}
}

func blobPageUpdate(page, transferred, expected int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   MigrateBlobs,
		Step:    transferred,
		Total:   expected,
		Message: fmt.Sprintf("Migrating blobs, page %d (%d/%d)...", page, transferred, expected),
	}
}

func blobProgressUpdate(transferred, expected int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   MigrateBlobs,
		Step:    transferred,
		Total:   expected,
		Message: fmt.Sprintf("Migrated %d/%d blobs", transferred, expected),
	}
}

func listingGapUpdate(gap models.ListingGap) ProgressUpdate {
	return ProgressUpdate{
		Phase:   MigrateBlobs,
		Message: fmt.Sprintf("Could not list blobs after cursor %q: %s", gap.Cursor, gap.Cause),
		Data:    gap,
	}
}

func reconcileUpdate(step, total int, cid string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ReconcileBlobs,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Retrying missing blob %s", step, total, cid),
	}
}

func reconcileDoneUpdate(status *models.AccountStatus, missing int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ReconcileBlobs,
		Step:    status.ImportedBlobs,
		Total:   status.ExpectedBlobs,
		Message: fmt.Sprintf("Blob check: %d/%d imported, %d missing", status.ImportedBlobs, status.ExpectedBlobs, missing),
		Data:    status,
	}
}

func handoverRequestedUpdate(sourceHost string) ProgressUpdate {
	return ProgressUpdate{
		Phase: RequestHandover,
		Step:  1,
		Total: 1,
		Message: fmt.Sprintf(
			"Requested a PLC operation signature from %s. Check your email for the confirmation token, then run the handover.",
			sourceHost,
		),
	}
}

func finishedUpdate(rec *models.MigrationRecord) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Finished,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Migration of %s is %s", rec.DID(), rec.State()),
		Data:    rec,
	}
}
