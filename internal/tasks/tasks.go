package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/services"
	"github.com/desertthunder/atx/internal/shared"
)

// StateStore persists migration records between runs.
type StateStore interface {
	// Latest returns the most recent record for did moving to targetHost, or nil when there is none.
	Latest(did, targetHost string) (*models.MigrationRecord, error)
	// Save creates or updates rec.
	Save(rec *models.MigrationRecord) error
}

// Session is the state of one migration run.
//
// It owns its two endpoints; they are never shared with another session.
type Session struct {
	Record      *models.MigrationRecord
	Source      services.Endpoint
	Destination services.Endpoint
	Flags       models.PhaseFlags

	observer Observer
}

func (s *Session) DID() string { return s.Record.DID() }

// MissingBlobs returns the blobs that could not be transferred, for manual follow-up.
func (s *Session) MissingBlobs() []models.MissingBlob { return s.Record.MissingBlobs() }

// EngineOpts configures a [MigrationEngine].
type EngineOpts struct {
	Resolver    services.IdentityResolver
	ChangeLog   services.ChangeLog
	NewEndpoint services.EndpointFactory
	// Store is optional; without it state only lives for one run.
	Store    StateStore
	Logger   *log.Logger
	Identity shared.IdentityConfig
	Transfer shared.TransferConfig
}

// MigrationEngine drives account migrations, handovers and stale-PDS deactivation.
type MigrationEngine struct {
	resolver    services.IdentityResolver
	changeLog   services.ChangeLog
	newEndpoint services.EndpointFactory
	store       StateStore
	logger      *log.Logger
	identity    shared.IdentityConfig
	blobs       *BlobSyncer
}

// NewMigrationEngine creates an engine. A nil endpoint factory uses [services.NewPDSClientFactory].
func NewMigrationEngine(opts EngineOpts) *MigrationEngine {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewDiscardLogger()
	}
	newEndpoint := opts.NewEndpoint
	if newEndpoint == nil {
		newEndpoint = services.NewPDSClientFactory(opts.Transfer.Timeout())
	}
	return &MigrationEngine{
		resolver:    opts.Resolver,
		changeLog:   opts.ChangeLog,
		newEndpoint: newEndpoint,
		store:       opts.Store,
		logger:      logger,
		identity:    opts.Identity,
		blobs:       NewBlobSyncer(opts.Transfer, logger),
	}
}

// MigrateOptions are the inputs of one [MigrationEngine.Migrate] run.
type MigrateOptions struct {
	SourceHandle      string
	Password          string
	DestinationHost   string
	DestinationEmail  string
	DestinationHandle string
	InviteCode        string
	AuthFactor        string
	Flags             models.PhaseFlags
	Observer          Observer
}

func (o MigrateOptions) validate() error {
	switch {
	case shared.NormalizeHandle(o.SourceHandle) == "":
		return fmt.Errorf("%w: source handle", shared.ErrMissingArgument)
	case o.Password == "":
		return fmt.Errorf("%w: password", shared.ErrMissingArgument)
	case o.DestinationHost == "":
		return fmt.Errorf("%w: destination host", shared.ErrMissingArgument)
	case o.Flags.CreateAccount && o.DestinationHandle == "":
		return fmt.Errorf("%w: destination handle is required to create an account", shared.ErrMissingArgument)
	}
	return nil
}

// resolveSource maps a normalized handle to its DID and the host to log in to.
//
// Handles under the entryway domain are looked up through the entryway itself, and the entryway is the source host.
func (e *MigrationEngine) resolveSource(ctx context.Context, handle string) (string, string, error) {
	if e.identity.EntrywayDomain != "" && shared.HandleHasDomain(handle, e.identity.EntrywayDomain) {
		host := shared.NormalizeHost(e.identity.EntrywayURL)
		if host == "" {
			host = shared.NormalizeHost(e.identity.EntrywayDomain)
		}
		did, err := e.newEndpoint(host).ResolveHandle(ctx, handle)
		if err != nil {
			return "", "", err
		}
		return did, host, nil
	}

	if e.resolver == nil {
		return "", "", fmt.Errorf("%w: no identity resolver configured", shared.ErrServiceUnavailable)
	}
	did, err := e.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		return "", "", err
	}
	host, err := services.ResolvePDS(ctx, e.resolver, did)
	if err != nil {
		return "", "", err
	}
	return did, host, nil
}

// loadRecord returns the stored record for did and target, or a fresh one.
func (e *MigrationEngine) loadRecord(did, handle, sourceHost, targetHost string) (*models.MigrationRecord, error) {
	if e.store != nil {
		rec, err := e.store.Latest(did, targetHost)
		if err != nil {
			return nil, fmt.Errorf("failed to load migration state: %w", err)
		}
		if rec != nil {
			rec.SetSourceHost(sourceHost)
			return rec, nil
		}
	}

	rec := models.NewMigrationRecord(0, did, handle, sourceHost, targetHost)
	now := time.Now()
	rec.SetStartedAt(&now)
	return rec, nil
}

func (e *MigrationEngine) save(rec *models.MigrationRecord) error {
	if e.store == nil {
		return nil
	}
	rec.SetUpdatedAt(time.Now())
	if err := e.store.Save(rec); err != nil {
		return fmt.Errorf("failed to save migration state: %w", err)
	}
	return nil
}

// advance marks step finished, moves the summary state forward and persists the record.
func (e *MigrationEngine) advance(s *Session, step models.Step, state models.WorkflowState) error {
	s.Record.MarkDone(step)
	if s.Record.Advance(state) {
		e.logger.Info("migration state advanced", "did", s.DID(), "state", state)
	}
	s.Record.SetErrorMessage("")
	return e.save(s.Record)
}

// fail records err on the session's record. A failure to persist is logged; err is returned unchanged.
func (e *MigrationEngine) fail(s *Session, err error) error {
	if s == nil || s.Record == nil {
		return err
	}
	s.Record.SetErrorMessage(err.Error())
	if saveErr := e.save(s.Record); saveErr != nil {
		e.logger.Error("could not persist failure", "did", s.DID(), "err", saveErr)
	}
	return err
}

// shouldRun reports whether the phase for step is enabled by flag and has not finished on rec.
// Nothing runs again once the handover is complete.
func shouldRun(flag bool, rec *models.MigrationRecord, step models.Step) bool {
	return flag && !rec.Reached(models.Complete) && !rec.Done(step)
}

// Migrate moves an account to a new PDS, stopping after the PLC signature request.
//
// Phases run in order. Each runs only when its flag is set and the record has not finished it, so a phase skipped
// by one run can still run on a later one. Finished phases are recorded and advance the summary state. The
// signature request repeats on every run that asks for it until the handover completes. The returned session is non-nil whenever the identity resolved,
// so callers can inspect the record and missing blobs after a failure.
func (e *MigrationEngine) Migrate(ctx context.Context, opts MigrateOptions) (*Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	obs := observerOrNop(opts.Observer)
	handle := shared.NormalizeHandle(opts.SourceHandle)
	targetHost := shared.NormalizeHost(opts.DestinationHost)

	obs.Notify(phaseUpdate(ResolveIdentity, fmt.Sprintf("Resolving %s...", handle)))
	did, sourceHost, err := e.resolveSource(ctx, handle)
	if err != nil {
		return nil, err
	}
	obs.Notify(resolvedUpdate(handle, did, sourceHost))

	rec, err := e.loadRecord(did, handle, sourceHost, targetHost)
	if err != nil {
		return nil, err
	}
	if opts.DestinationHandle != "" {
		rec.SetTargetHandle(shared.NormalizeHandle(opts.DestinationHandle))
	}
	if opts.DestinationEmail != "" {
		rec.SetTargetEmail(opts.DestinationEmail)
	}

	s := &Session{
		Record:      rec,
		Source:      e.newEndpoint(sourceHost),
		Destination: e.newEndpoint(targetHost),
		Flags:       opts.Flags,
		observer:    obs,
	}
	logger := shared.WithLogger(e.logger, "did", did, "source", sourceHost, "target", targetHost)

	obs.Notify(phaseUpdate(AuthenticateSource, fmt.Sprintf("Logging in to %s...", sourceHost)))
	if _, err := s.Source.Login(ctx, handle, opts.Password, opts.AuthFactor); err != nil {
		return s, e.fail(s, loginError("source", sourceHost, err))
	}

	obs.Notify(phaseUpdate(CheckDestination, fmt.Sprintf("Checking %s...", targetHost)))
	desc, err := s.Destination.DescribeServer(ctx)
	if err != nil {
		return s, e.fail(s, fmt.Errorf("%w: %s: %w", shared.ErrDestinationCheck, targetHost, err))
	}
	if desc.DID == "" {
		return s, e.fail(s, fmt.Errorf("%w: %s returned no service DID", shared.ErrDestinationCheck, targetHost))
	}

	if shouldRun(opts.Flags.CreateAccount, rec, models.StepCreateAccount) {
		if err := e.createAccount(ctx, s, desc, opts); err != nil {
			return s, e.fail(s, err)
		}
		logger.Info("destination account created")
		if err := e.advance(s, models.StepCreateAccount, models.AccountCreated); err != nil {
			return s, err
		}
	}

	obs.Notify(phaseUpdate(AuthenticateDestination, fmt.Sprintf("Logging in to %s...", targetHost)))
	if _, err := s.Destination.Login(ctx, did, opts.Password, ""); err != nil {
		return s, e.fail(s, loginError("destination", targetHost, err))
	}

	if shouldRun(opts.Flags.MigrateRepo, rec, models.StepRepo) {
		if err := e.migrateRepo(ctx, s); err != nil {
			return s, e.fail(s, err)
		}
		logger.Info("repository imported")
		if err := e.advance(s, models.StepRepo, models.RepoImported); err != nil {
			return s, err
		}
	}

	if err := e.migrateBlobs(ctx, s, logger); err != nil {
		return s, e.fail(s, err)
	}

	if shouldRun(opts.Flags.MigratePrefs, rec, models.StepPrefs) {
		obs.Notify(phaseUpdate(MigratePrefs, "Migrating preferences..."))
		prefs, err := s.Source.GetPreferences(ctx)
		if err != nil {
			return s, e.fail(s, fmt.Errorf("failed to read preferences: %w", err))
		}
		if err := s.Destination.PutPreferences(ctx, prefs); err != nil {
			return s, e.fail(s, fmt.Errorf("failed to write preferences: %w", err))
		}
		if err := e.advance(s, models.StepPrefs, models.PrefsImported); err != nil {
			return s, err
		}
	}

	if opts.Flags.MigratePlcRecord && !rec.Reached(models.Complete) {
		obs.Notify(phaseUpdate(RequestHandover, "Requesting PLC operation signature..."))
		if err := s.Source.RequestPlcOperationSignature(ctx); err != nil {
			return s, e.fail(s, fmt.Errorf("failed to request PLC operation signature: %w", err))
		}
		if err := e.advance(s, models.StepPlc, models.HandoverRequested); err != nil {
			return s, err
		}
		obs.Notify(handoverRequestedUpdate(sourceHost))
	}

	obs.Notify(finishedUpdate(rec))
	return s, nil
}

func loginError(side, host string, err error) error {
	if errors.Is(err, shared.ErrAuthFactorRequired) {
		return fmt.Errorf("%s %s: %w", side, host, err)
	}
	return fmt.Errorf("%w: %s %s: %w", shared.ErrAuthFailed, side, host, err)
}

func (e *MigrationEngine) createAccount(ctx context.Context, s *Session, desc *models.ServerDescription, opts MigrateOptions) error {
	s.observer.Notify(phaseUpdate(CreateAccount, fmt.Sprintf("Creating account on %s...", s.Destination.Host())))

	token, err := s.Source.GetServiceAuth(ctx, desc.DID, services.CreateAccountMethod)
	if err != nil {
		return fmt.Errorf("failed to get service auth token: %w", err)
	}

	created, err := s.Destination.CreateAccount(ctx, models.CreateAccountInput{
		DID:        s.DID(),
		Handle:     s.Record.TargetHandle(),
		Email:      opts.DestinationEmail,
		Password:   opts.Password,
		InviteCode: opts.InviteCode,
	}, token)
	if err != nil {
		return fmt.Errorf("failed to create destination account: %w", err)
	}
	if created.DID != s.DID() {
		return fmt.Errorf("%w: requested %s, got %s", shared.ErrIdentityMismatch, s.DID(), created.DID)
	}
	return nil
}

func (e *MigrationEngine) migrateRepo(ctx context.Context, s *Session) error {
	s.observer.Notify(phaseUpdate(MigrateRepo, "Exporting repository..."))
	car, err := s.Source.ExportRepo(ctx, s.DID())
	if err != nil {
		return fmt.Errorf("%w: export: %w", shared.ErrRepoImport, err)
	}

	s.observer.Notify(phaseUpdate(MigrateRepo, fmt.Sprintf("Importing repository (%d bytes)...", len(car))))
	if err := s.Destination.ImportRepo(ctx, car); err != nil {
		return fmt.Errorf("%w: import: %w", shared.ErrRepoImport, err)
	}
	return nil
}

// migrateBlobs runs the sync and reconciliation phases. The state reaches BlobsImported once reconciliation has
// run; a sync on its own leaves the blob stage open.
//
// When reconciliation is not requested, blobs that failed the sync go straight to the missing list.
func (e *MigrationEngine) migrateBlobs(ctx context.Context, s *Session, logger *log.Logger) error {
	rec := s.Record
	runSync := shouldRun(s.Flags.MigrateBlobs, rec, models.StepBlobs)
	runReconcile := shouldRun(s.Flags.MigrateMissingBlobs, rec, models.StepMissingBlobs)
	if !runSync && !runReconcile {
		return nil
	}
	rec.ClearMissingBlobs()

	if runSync {
		rec.ClearListingGaps()
		status, err := s.Destination.CheckAccountStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to read destination account status: %w", err)
		}
		rec.SetBlobCounts(status.ExpectedBlobs, status.ImportedBlobs)

		result, err := e.blobs.Sync(ctx, s.Source, s.Destination, s.DID(), status.ExpectedBlobs, rec, s.observer)
		if err != nil {
			return err
		}
		if !runReconcile {
			for _, f := range result.Failures {
				rec.AddMissingBlob(models.MissingBlob{CID: f.CID, Stage: models.StageSync, Cause: f.Cause})
			}
		}
		if len(result.Gaps) == 0 {
			rec.MarkDone(models.StepBlobs)
		}
		if err := e.save(rec); err != nil {
			return err
		}
	}

	if !runReconcile {
		return nil
	}

	s.observer.Notify(phaseUpdate(ReconcileBlobs, "Checking for missing blobs..."))
	result, err := e.blobs.Reconcile(ctx, s.Source, s.Destination, s.DID(), rec, s.observer)
	if err != nil {
		return err
	}
	logger.Info("blob reconciliation finished",
		"skipped", result.Skipped, "attempted", result.Attempted, "recovered", result.Recovered,
		"missing", len(rec.MissingBlobs()))
	return e.advance(s, models.StepMissingBlobs, models.BlobsImported)
}
