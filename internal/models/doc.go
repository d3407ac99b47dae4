// Package models defines domain entities and persistence interfaces for the atx account migration tool.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): Lightweight structs representing PDS and identity data
//   - [BlobRef], [Blob] : Content-addressed attachments and their bytes
//   - [AccountStatus] : Expected vs imported counts read from the destination
//   - [ServerDescription], [DidCredentials] : Destination metadata used for account creation and handover
//   - [DIDDocument], [ChangeLogEntry] : Identity document and PLC audit log entries
//
// 2. Persistent Entities: Database-backed models with full lifecycle management
//   - [MigrationRecord] : One migration run with its [WorkflowState], Missing-Blob list and listing gaps
//
// [WorkflowState] orders the phases of a migration. Each phase checks and advances the recorded state,
// which makes a rerun depend on what already happened instead of on which flags the caller remembered to pass.
//
// All persistent entities implement the Model interface providing ID generation, timestamps, validation, and soft delete support.
// The Repository[T] interface defines standard CRUD operations for database access.
package models
