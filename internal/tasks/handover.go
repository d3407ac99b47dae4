package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
)

// HandoverOptions are the inputs of a standalone [MigrationEngine.Handover] run.
type HandoverOptions struct {
	SourceHandle    string
	Password        string
	DestinationHost string
	AuthFactor      string
	// Token is the PLC confirmation token delivered after the signature request.
	Token    string
	Observer Observer
}

// Handover logs in to both servers and completes the identity handover with the emailed token.
func (e *MigrationEngine) Handover(ctx context.Context, opts HandoverOptions) (*Session, error) {
	s, err := e.Migrate(ctx, MigrateOptions{
		SourceHandle:    opts.SourceHandle,
		Password:        opts.Password,
		DestinationHost: opts.DestinationHost,
		AuthFactor:      opts.AuthFactor,
		Observer:        opts.Observer,
	})
	if err != nil {
		return s, err
	}
	return s, e.SignAndSubmitHandover(ctx, s, opts.Token)
}

// SignAndSubmitHandover points the DID at the destination and swaps which account is active.
//
// The source signs a PLC operation carrying the destination's recommended credentials, the destination submits it,
// then the destination is activated before the source is deactivated.
func (e *MigrationEngine) SignAndSubmitHandover(ctx context.Context, s *Session, token string) error {
	if s == nil || s.Source == nil || s.Destination == nil {
		return fmt.Errorf("%w: session", shared.ErrMissingArgument)
	}
	if token == "" {
		return fmt.Errorf("%w: PLC confirmation token", shared.ErrMissingArgument)
	}
	obs := observerOrNop(s.observer)
	logger := shared.WithLogger(e.logger, "did", s.DID(), "target", s.Destination.Host())

	obs.Notify(phaseUpdate(SignHandover, "Fetching recommended DID credentials..."))
	creds, err := s.Destination.GetRecommendedDidCredentials(ctx)
	if err != nil {
		return e.fail(s, fmt.Errorf("failed to get recommended credentials: %w", err))
	}
	if len(creds.RotationKeys) == 0 {
		return e.fail(s, fmt.Errorf("%w: %s", shared.ErrNoRotationKeys, s.Destination.Host()))
	}

	obs.Notify(phaseUpdate(SignHandover, "Signing PLC operation..."))
	op, err := s.Source.SignPlcOperation(ctx, token, creds)
	if err != nil {
		return e.fail(s, fmt.Errorf("failed to sign PLC operation: %w", err))
	}
	if err := verifyRotationKeys(op, creds); err != nil {
		return e.fail(s, err)
	}

	obs.Notify(phaseUpdate(SignHandover, "Submitting PLC operation..."))
	if err := s.Destination.SubmitPlcOperation(ctx, op); err != nil {
		return e.fail(s, fmt.Errorf("failed to submit PLC operation: %w", err))
	}
	logger.Info("PLC operation submitted")

	obs.Notify(phaseUpdate(ActivateDestination, "Activating destination account..."))
	if err := s.Destination.ActivateAccount(ctx); err != nil {
		return e.fail(s, fmt.Errorf("failed to activate destination account: %w", err))
	}

	obs.Notify(phaseUpdate(DeactivateSource, "Deactivating source account..."))
	if err := s.Source.DeactivateAccount(ctx); err != nil {
		return e.fail(s, fmt.Errorf("failed to deactivate source account: %w", err))
	}

	logger.Info("handover complete")
	if err := e.advance(s, models.StepPlc, models.Complete); err != nil {
		return err
	}
	obs.Notify(finishedUpdate(s.Record))
	return nil
}

// verifyRotationKeys checks that the signed operation carries every rotation key the destination recommended.
func verifyRotationKeys(op json.RawMessage, creds *models.DidCredentials) error {
	var signed struct {
		RotationKeys []string `json:"rotationKeys"`
	}
	if err := json.Unmarshal(op, &signed); err != nil {
		return fmt.Errorf("%w: unreadable operation: %w", shared.ErrHandoverMismatch, err)
	}
	for _, key := range creds.RotationKeys {
		if !slices.Contains(signed.RotationKeys, key) {
			return fmt.Errorf("%w: missing %s", shared.ErrHandoverMismatch, key)
		}
	}
	return nil
}
