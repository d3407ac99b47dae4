package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
)

// DeactivateOptions are the inputs of [MigrationEngine.Deactivate].
type DeactivateOptions struct {
	Handle     string
	Password   string
	AuthFactor string
	Observer   Observer
}

// DeactivateResult names the PDS that was deactivated.
type DeactivateResult struct {
	DID         string
	CurrentHost string
	PriorHost   string
}

// Deactivate finds the PDS an account used before its current one and deactivates the account there.
//
// The current PDS is never contacted.
func (e *MigrationEngine) Deactivate(ctx context.Context, opts DeactivateOptions) (*DeactivateResult, error) {
	handle := shared.NormalizeHandle(opts.Handle)
	if handle == "" {
		return nil, fmt.Errorf("%w: handle", shared.ErrMissingArgument)
	}
	if opts.Password == "" {
		return nil, fmt.Errorf("%w: password", shared.ErrMissingArgument)
	}
	if e.resolver == nil || e.changeLog == nil {
		return nil, fmt.Errorf("%w: resolver and change log are required", shared.ErrServiceUnavailable)
	}
	obs := observerOrNop(opts.Observer)

	obs.Notify(phaseUpdate(ResolveIdentity, fmt.Sprintf("Resolving %s...", handle)))
	did, _, err := e.resolveSource(ctx, handle)
	if err != nil {
		return nil, err
	}
	doc, err := e.resolver.ResolveDIDDocument(ctx, did)
	if err != nil {
		return nil, err
	}
	current, ok := doc.PDSEndpoint()
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", shared.ErrResolution, shared.ErrNoPDSInDocument, did)
	}

	obs.Notify(phaseUpdate(FindPriorEndpoint, "Reading PLC change log..."))
	entries, err := e.changeLog.FetchChangeLog(ctx, did)
	if err != nil {
		return nil, err
	}
	prior, err := PriorEndpoint(entries, current)
	if err != nil {
		return nil, err
	}

	result := &DeactivateResult{DID: did, CurrentHost: shared.NormalizeHost(current), PriorHost: shared.NormalizeHost(prior)}
	logger := shared.WithLogger(e.logger, "did", did, "current", result.CurrentHost, "prior", result.PriorHost)

	obs.Notify(phaseUpdate(DeactivatePrior, fmt.Sprintf("Deactivating account on %s...", result.PriorHost)))
	ep := e.newEndpoint(result.PriorHost)
	if _, err := ep.Login(ctx, did, opts.Password, opts.AuthFactor); err != nil {
		return result, loginError("prior", result.PriorHost, err)
	}
	if err := ep.DeactivateAccount(ctx); err != nil {
		return result, fmt.Errorf("failed to deactivate account on %s: %w", result.PriorHost, err)
	}

	logger.Info("prior PDS deactivated")
	obs.Notify(phaseUpdate(Finished, fmt.Sprintf("Deactivated %s on %s", did, result.PriorHost)))
	return result, nil
}

// PriorEndpoint returns the endpoint assigned just before the first entry matching current.
//
// Entries match when they are equal after trimming a trailing slash. It fails with [shared.ErrNoPriorEndpoint]
// when current is missing from the log or is its first entry, and with [shared.ErrPriorIsCurrent] when the prior
// endpoint is another spelling of current.
func PriorEndpoint(entries []models.ChangeLogEntry, current string) (string, error) {
	want := strings.TrimRight(strings.TrimSpace(current), "/")
	prior := ""
	for _, entry := range entries {
		ep := strings.TrimRight(strings.TrimSpace(entry.Endpoint), "/")
		if ep == want {
			if prior == "" {
				return "", fmt.Errorf("%w: %s is the first PDS in the log", shared.ErrNoPriorEndpoint, want)
			}
			if shared.NormalizeHost(prior) == shared.NormalizeHost(want) {
				return "", fmt.Errorf("%w: %s", shared.ErrPriorIsCurrent, prior)
			}
			return prior, nil
		}
		prior = ep
	}
	return "", fmt.Errorf("%w: current PDS %s is not present in the change log", shared.ErrNoPriorEndpoint, want)
}
