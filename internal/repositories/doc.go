// Package repositories implements SQLite persistence for migration records.
//
// [MigrationRepository] implements models.Repository[*models.MigrationRecord]. A record's missing blobs and listing
// gaps live in child tables and are written in the same transaction as the record itself.
// Deleted records are soft-deleted via deleted_at and excluded from queries.
//
// [StateStore] adapts the repository to the workflow's state store so a migration can resume after a restart.
//
// Sequence numbers provide stable, human-readable ordering (e.g., migration #3) independent of UUIDs and timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
