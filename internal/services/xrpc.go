package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/desertthunder/atx/internal/shared"
)

// XRPC method identifiers used by [PDSClient].
const (
	nsidCreateSession       = "com.atproto.server.createSession"
	nsidDescribeServer      = "com.atproto.server.describeServer"
	nsidGetServiceAuth      = "com.atproto.server.getServiceAuth"
	nsidCreateAccount       = "com.atproto.server.createAccount"
	nsidCheckAccountStatus  = "com.atproto.server.checkAccountStatus"
	nsidActivateAccount     = "com.atproto.server.activateAccount"
	nsidDeactivateAccount   = "com.atproto.server.deactivateAccount"
	nsidGetRepo             = "com.atproto.sync.getRepo"
	nsidListBlobs           = "com.atproto.sync.listBlobs"
	nsidGetBlob             = "com.atproto.sync.getBlob"
	nsidImportRepo          = "com.atproto.repo.importRepo"
	nsidUploadBlob          = "com.atproto.repo.uploadBlob"
	nsidListMissingBlobs    = "com.atproto.repo.listMissingBlobs"
	nsidGetPreferences      = "app.bsky.actor.getPreferences"
	nsidPutPreferences      = "app.bsky.actor.putPreferences"
	nsidRecommendedCreds    = "com.atproto.identity.getRecommendedDidCredentials"
	nsidSignPlcOperation    = "com.atproto.identity.signPlcOperation"
	nsidSubmitPlcOperation  = "com.atproto.identity.submitPlcOperation"
	nsidRequestPlcSignature = "com.atproto.identity.requestPlcOperationSignature"
	nsidResolveHandle       = "com.atproto.identity.resolveHandle"
)

const (
	carContentType            = "application/vnd.ipld.car"
	defaultBlobContentType    = "application/octet-stream"
	authFactorTokenRequired   = "AuthFactorTokenRequired"
	authenticationRequiredErr = "AuthenticationRequired"
	expiredTokenErr           = "ExpiredToken"
)

// CreateAccountMethod is the lxm a service token must be scoped to for account creation.
const CreateAccountMethod = nsidCreateAccount

const maxErrorBodyBytes = 64 << 10

// XRPCError is a non-2xx response from an XRPC method.
type XRPCError struct {
	StatusCode int    `json:"-"`
	Method     string `json:"-"`
	Name       string `json:"error"`
	Message    string `json:"message"`
}

func (e *XRPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Method, e.Name, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Method, e.Name, e.StatusCode)
}

// Is lets callers match an XRPCError against the shared sentinels.
func (e *XRPCError) Is(target error) bool {
	switch target {
	case shared.ErrAPIRequest:
		return true
	case shared.ErrAuthFactorRequired:
		return e.Name == authFactorTokenRequired
	case shared.ErrAuthFailed:
		return e.StatusCode == http.StatusUnauthorized ||
			e.Name == authenticationRequiredErr ||
			e.Name == expiredTokenErr ||
			e.Name == authFactorTokenRequired
	case shared.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case shared.ErrServiceUnavailable:
		return e.StatusCode == http.StatusBadGateway ||
			e.StatusCode == http.StatusServiceUnavailable ||
			e.StatusCode == http.StatusGatewayTimeout
	}
	return false
}

// IsAuthFactorRequired reports whether err is a second-factor challenge.
func IsAuthFactorRequired(err error) bool {
	return errors.Is(err, shared.ErrAuthFactorRequired)
}

// decodeError builds an [XRPCError] from a failed response.
func decodeError(method string, resp *http.Response) error {
	xerr := &XRPCError{StatusCode: resp.StatusCode, Method: method}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if len(body) > 0 {
		_ = json.Unmarshal(body, xerr)
	}
	if xerr.Name == "" {
		xerr.Name = http.StatusText(resp.StatusCode)
	}
	return xerr
}
