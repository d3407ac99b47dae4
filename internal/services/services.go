package services

import (
	"context"
	"encoding/json"

	"github.com/desertthunder/atx/internal/models"
)

// Endpoint is an authenticated connection to one personal data server.
//
// A value is owned by the workflow that created it and is never shared between migrations.
type Endpoint interface {
	// Host returns the normalized base URL of the server.
	Host() string

	// Login opens a session. authFactor may be empty; a server that wants one fails with [shared.ErrAuthFactorRequired].
	Login(ctx context.Context, identifier, password, authFactor string) (*models.AuthSession, error)

	// DescribeServer fetches the server's self description without authenticating.
	DescribeServer(ctx context.Context) (*models.ServerDescription, error)

	// GetServiceAuth issues a short-lived token scoped to audience aud and method lxm.
	GetServiceAuth(ctx context.Context, aud, lxm string) (string, error)

	// CreateAccount creates an account authorized by serviceToken and adopts its session.
	CreateAccount(ctx context.Context, input models.CreateAccountInput, serviceToken string) (*models.AuthSession, error)

	CheckAccountStatus(ctx context.Context) (*models.AccountStatus, error)

	// ExportRepo downloads the full repository of did as a CAR archive.
	ExportRepo(ctx context.Context, did string) ([]byte, error)

	// ImportRepo uploads a CAR archive into the session's repository.
	ImportRepo(ctx context.Context, car []byte) error

	// ListBlobs lists one page of blob CIDs. An empty returned cursor ends the listing.
	ListBlobs(ctx context.Context, did, cursor string, limit int) ([]string, string, error)

	GetBlob(ctx context.Context, did, cid string) (*models.Blob, error)
	UploadBlob(ctx context.Context, data []byte, mimeType string) error

	// ListMissingBlobs lists blobs the server has references to but no content for.
	ListMissingBlobs(ctx context.Context, cursor string, limit int) ([]models.BlobRef, string, error)

	GetPreferences(ctx context.Context) (json.RawMessage, error)
	PutPreferences(ctx context.Context, prefs json.RawMessage) error

	GetRecommendedDidCredentials(ctx context.Context) (*models.DidCredentials, error)

	// SignPlcOperation asks the server that currently controls the DID to sign an operation carrying creds.
	SignPlcOperation(ctx context.Context, token string, creds *models.DidCredentials) (json.RawMessage, error)
	SubmitPlcOperation(ctx context.Context, operation json.RawMessage) error

	ActivateAccount(ctx context.Context) error
	DeactivateAccount(ctx context.Context) error

	// RequestPlcOperationSignature triggers delivery of the approval token, usually by email.
	RequestPlcOperationSignature(ctx context.Context) error

	// ResolveHandle asks the server to resolve a handle it fronts.
	ResolveHandle(ctx context.Context, handle string) (string, error)
}

// EndpointFactory opens an unauthenticated [Endpoint] for a host.
type EndpointFactory func(host string) Endpoint

// IdentityResolver maps handles to DIDs and DIDs to documents.
type IdentityResolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
	ResolveDIDDocument(ctx context.Context, did string) (*models.DIDDocument, error)
}

// ChangeLog returns the ordered PDS assignments of a DID, oldest first.
type ChangeLog interface {
	FetchChangeLog(ctx context.Context, did string) ([]models.ChangeLogEntry, error)
}
