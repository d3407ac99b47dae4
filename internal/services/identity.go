package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
)

const userAgent = "atx"

// Resolver implements [IdentityResolver] on top of an atproto identity directory.
//
// Handles resolve through the _atproto DNS TXT record first, then HTTPS /.well-known/atproto-did. did:plc documents
// come from the configured PLC directory and did:web documents from the domain's /.well-known/did.json.
type Resolver struct {
	dir *identity.BaseDirectory
}

// NewResolver creates a resolver reading did:plc documents from plcURL. Empty plcURL uses the public directory.
func NewResolver(plcURL string, client *http.Client) *Resolver {
	if plcURL == "" {
		plcURL = defaultPLCURL
	}
	dir := &identity.BaseDirectory{
		PLCURL:              strings.TrimRight(plcURL, "/"),
		TryAuthoritativeDNS: true,
		UserAgent:           userAgent,
	}
	if client != nil {
		dir.HTTPClient = *client
	}
	return &Resolver{dir: dir}
}

// ResolveHandle maps a handle to its DID.
func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (string, error) {
	normalized := shared.NormalizeHandle(handle)
	if normalized == "" {
		return "", fmt.Errorf("%w: empty handle", shared.ErrResolution)
	}
	h, err := syntax.ParseHandle(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrResolution, err)
	}

	did, err := r.dir.ResolveHandle(ctx, h)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", shared.ErrResolution, h, err)
	}
	return did.String(), nil
}

// ResolveDIDDocument fetches the document for a did:plc or did:web identity.
func (r *Resolver) ResolveDIDDocument(ctx context.Context, did string) (*models.DIDDocument, error) {
	parsed, err := syntax.ParseDID(did)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrResolution, err)
	}

	doc, err := r.dir.ResolveDID(ctx, parsed)
	if err != nil {
		if errors.Is(err, identity.ErrDIDNotFound) {
			return nil, fmt.Errorf("%w: %w: %s: %w", shared.ErrResolution, shared.ErrNotFound, did, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrResolution, did, err)
	}
	return fromIdentityDocument(doc), nil
}

func fromIdentityDocument(doc *identity.DIDDocument) *models.DIDDocument {
	out := &models.DIDDocument{
		ID:          doc.DID.String(),
		AlsoKnownAs: append([]string(nil), doc.AlsoKnownAs...),
	}
	for _, svc := range doc.Service {
		out.Service = append(out.Service, models.DIDService{
			ID:              svc.ID,
			Type:            svc.Type,
			ServiceEndpoint: svc.ServiceEndpoint,
		})
	}
	return out
}

// ResolvePDS resolves did to its declared PDS endpoint.
func ResolvePDS(ctx context.Context, r IdentityResolver, did string) (string, error) {
	doc, err := r.ResolveDIDDocument(ctx, did)
	if err != nil {
		return "", err
	}
	ep, ok := doc.PDSEndpoint()
	if !ok {
		return "", fmt.Errorf("%w: %w: %s", shared.ErrResolution, shared.ErrNoPDSInDocument, did)
	}
	return shared.NormalizeHost(ep), nil
}
