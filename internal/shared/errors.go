package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Authentication errors
	ErrAuthFailed         = fmt.Errorf("authentication failed")
	ErrAuthFactorRequired = fmt.Errorf("two-factor code required")
	ErrNotAuthenticated   = fmt.Errorf("not authenticated")

	// Identity resolution errors
	ErrResolution      = fmt.Errorf("identity resolution failed")
	ErrNoPDSInDocument = fmt.Errorf("no PDS in DID document")

	// Migration errors
	ErrDestinationCheck = fmt.Errorf("destination server did not describe itself")
	ErrIdentityMismatch = fmt.Errorf("destination returned a different DID")
	ErrRepoImport       = fmt.Errorf("repository import failed")
	ErrNoRotationKeys   = fmt.Errorf("destination provided no rotation keys")
	ErrHandoverMismatch = fmt.Errorf("signed operation does not carry the destination rotation keys")

	// Deactivation errors
	ErrNoPriorEndpoint = fmt.Errorf("no prior PDS found in the identity change log")
	ErrPriorIsCurrent  = fmt.Errorf("prior PDS is the current PDS")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrNotFound           = fmt.Errorf("not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
