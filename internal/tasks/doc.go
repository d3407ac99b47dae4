// Package tasks orchestrates moving an account between personal data servers with progress reporting.
//
// # Core Operations
//
// [MigrationEngine] exposes three workflows:
//
//  1. [MigrationEngine.Migrate] : copy an account to a new PDS
//     - Resolves the handle (entryway handles through the entryway) and logs in to the source
//     - Checks the destination server, creates the account with the same DID, logs in
//     - Imports the repository, syncs and reconciles blobs, copies preferences
//     - Requests a PLC operation signature and returns; the user receives a token by email
//
//  2. [MigrationEngine.Handover] / [MigrationEngine.SignAndSubmitHandover] : finish a migration
//     - Signs a PLC operation with the destination's recommended credentials
//     - Submits it, activates the destination, then deactivates the source
//
//  3. [MigrationEngine.Deactivate] : clean up a stale PDS
//     - Finds the PDS used before the current one from the PLC change log
//     - Logs in there and deactivates the account
//
// # Workflow State
//
// Each phase checks and advances the record's [models.WorkflowState]. With a [StateStore] the state survives
// restarts, so re-running Migrate skips what already completed. Phase flags can narrow a run further but never
// move the state backwards.
//
// # Blobs
//
// [BlobSyncer] walks the source listing page by page and transfers one blob at a time. Failed blobs do not stop
// the run. Reconciliation asks the destination which blobs it still lacks and retries each once; those that fail
// again land in the missing list with their cause.
//
// # Progress Reporting
//
// Workflows report through an [Observer]. [ChannelObserver] forwards to a channel without blocking.
package tasks
