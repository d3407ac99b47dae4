// Package services implements the remote collaborators a migration talks to.
//
// # Endpoints
//
// [Endpoint] is the capability surface of one personal data server. [PDSClient] implements it over XRPC:
// GET for queries, POST for procedures, JSON bodies except for CAR archives and blob uploads.
// After [PDSClient.Login] or [PDSClient.CreateAccount] the session's access token is attached to
// every authenticated call through an [oauth2.Transport]. A scoped service token for account creation
// is attached the same way for that one call.
//
// # Identity
//
// [Resolver] wraps an indigo identity directory. It maps handles to DIDs (DNS TXT _atproto record, then
// /.well-known/atproto-did) and DIDs to documents (PLC directory for did:plc, /.well-known/did.json for
// did:web). [PLCDirectory] reads the audit log used to find the PDS an account lived on before its
// current one.
//
// # Error Handling
//
// Failed XRPC calls return [*XRPCError], which matches these sentinels through errors.Is:
//   - [shared.ErrAPIRequest] : any failed call
//   - [shared.ErrAuthFailed] : 401, AuthenticationRequired, ExpiredToken
//   - [shared.ErrAuthFactorRequired] : AuthFactorTokenRequired
//   - [shared.ErrNotFound] : 404
//   - [shared.ErrServiceUnavailable] : 502, 503, 504
//
// Resolution failures wrap [shared.ErrResolution]; a document without a PDS service also wraps
// [shared.ErrNoPDSInDocument].
package services
