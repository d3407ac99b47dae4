package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
)

const migrationColumns = `
	id, sequence, did, source_handle, source_host, target_host, target_handle,
	target_email, state, completed_steps, blobs_expected, blobs_imported, error_message,
	started_at, completed_at, created_at, updated_at, deleted_at
`

// MigrationRepository implements models.Repository[*models.MigrationRecord].
type MigrationRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.MigrationRecord] = (*MigrationRepository)(nil)

// NewMigrationRepository creates a new MigrationRepository with the given database connection
func NewMigrationRepository(db *sql.DB) *MigrationRepository {
	return &MigrationRepository{db: db}
}

// Create inserts a new record with a generated ID and sequence, along with its missing blobs and listing gaps.
func (r *MigrationRepository) Create(rec *models.MigrationRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}

	sequence, err := NextSequence(r.db, "migrations")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO migrations (
			id, sequence, did, source_handle, source_host, target_host, target_handle,
			target_email, state, completed_steps, blobs_expected, blobs_imported, error_message,
			started_at, completed_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.Exec(query,
		id,
		sequence,
		rec.DID(),
		rec.SourceHandle(),
		rec.SourceHost(),
		rec.TargetHost(),
		rec.TargetHandle(),
		rec.TargetEmail(),
		rec.State().String(),
		joinSteps(rec.CompletedSteps()),
		rec.BlobsExpected(),
		rec.BlobsImported(),
		nullString(rec.ErrorMessage()),
		rec.StartedAt(),
		rec.CompletedAt(),
		rec.CreatedAt(),
		rec.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert migration: %w", err)
	}

	if err := writeChildren(tx, id, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	rec.SetID(id)
	rec.SetSequence(sequence)
	return nil
}

// Get retrieves a record by ID, excluding soft-deleted records
func (r *MigrationRepository) Get(id string) (*models.MigrationRecord, error) {
	query := `SELECT ` + migrationColumns + ` FROM migrations WHERE id = ? AND deleted_at IS NULL`

	rec, err := scanRecord(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: migration %s", shared.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadChildren(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Latest returns the most recent record for did moving to targetHost, or nil when there is none.
func (r *MigrationRepository) Latest(did, targetHost string) (*models.MigrationRecord, error) {
	query := `SELECT ` + migrationColumns + ` FROM migrations
		WHERE did = ? AND target_host = ? AND deleted_at IS NULL
		ORDER BY sequence DESC LIMIT 1`

	rec, err := scanRecord(r.db.QueryRow(query, did, targetHost))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadChildren(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update writes the mutable fields of rec and replaces its missing blobs and listing gaps.
func (r *MigrationRepository) Update(rec *models.MigrationRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}

	now := time.Now()
	rec.SetUpdatedAt(now)

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE migrations
		SET source_host = ?, target_handle = ?, target_email = ?, state = ?, completed_steps = ?,
			blobs_expected = ?, blobs_imported = ?, error_message = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := tx.Exec(query,
		rec.SourceHost(),
		rec.TargetHandle(),
		rec.TargetEmail(),
		rec.State().String(),
		joinSteps(rec.CompletedSteps()),
		rec.BlobsExpected(),
		rec.BlobsImported(),
		nullString(rec.ErrorMessage()),
		rec.StartedAt(),
		rec.CompletedAt(),
		now,
		rec.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update migration: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: migration not found or already deleted: %s", shared.ErrNotFound, rec.ID())
	}

	if _, err := tx.Exec(`DELETE FROM missing_blobs WHERE migration_id = ?`, rec.ID()); err != nil {
		return fmt.Errorf("failed to clear missing blobs: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM listing_gaps WHERE migration_id = ?`, rec.ID()); err != nil {
		return fmt.Errorf("failed to clear listing gaps: %w", err)
	}
	if err := writeChildren(tx, rec.ID(), rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// Delete soft-deletes a record by ID
func (r *MigrationRepository) Delete(id string) error {
	now := time.Now()

	query := `
		UPDATE migrations
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete migration: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: migration not found or already deleted: %s", shared.ErrNotFound, id)
	}

	return nil
}

// List retrieves records matching the given criteria, newest first, excluding soft-deleted records.
//
// Supported criteria: "did", "target_host", "state" (all strings) and "limit" (int).
func (r *MigrationRepository) List(criteria map[string]any) ([]*models.MigrationRecord, error) {
	query := `SELECT ` + migrationColumns + ` FROM migrations WHERE deleted_at IS NULL`
	args := []any{}

	for _, col := range []string{"did", "target_host", "state"} {
		if v, ok := criteria[col].(string); ok && v != "" {
			query += " AND " + col + " = ?"
			args = append(args, v)
		}
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}

	var records []*models.MigrationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	for _, rec := range records {
		if err := r.loadChildren(rec); err != nil {
			return nil, err
		}
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans one migrations row into a [models.MigrationRecord] without its children.
func scanRecord(row rowScanner) (*models.MigrationRecord, error) {
	var (
		id            string
		sequence      int
		did           string
		sourceHandle  string
		sourceHost    string
		targetHost    string
		targetHandle  string
		targetEmail   string
		state         string
		steps         string
		blobsExpected int
		blobsImported int
		errorMessage  sql.NullString
		startedAt     sql.NullTime
		completedAt   sql.NullTime
		createdAt     time.Time
		updatedAt     time.Time
		deletedAt     sql.NullTime
	)

	err := row.Scan(
		&id, &sequence, &did, &sourceHandle, &sourceHost, &targetHost, &targetHandle,
		&targetEmail, &state, &steps, &blobsExpected, &blobsImported, &errorMessage,
		&startedAt, &completedAt, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan migration: %w", err)
	}

	ws, err := models.ParseWorkflowState(state)
	if err != nil {
		return nil, fmt.Errorf("migration %s: %w", id, err)
	}
	done, err := models.ParseSteps(steps)
	if err != nil {
		return nil, fmt.Errorf("migration %s: %w", id, err)
	}

	rec := models.NewMigrationRecord(sequence, did, sourceHandle, sourceHost, targetHost)
	rec.SetID(id)
	rec.SetTargetHandle(targetHandle)
	rec.SetTargetEmail(targetEmail)
	rec.SetState(ws)
	rec.SetCompletedSteps(done)
	rec.SetBlobCounts(blobsExpected, blobsImported)
	rec.SetCreatedAt(createdAt)
	rec.SetUpdatedAt(updatedAt)
	if errorMessage.Valid {
		rec.SetErrorMessage(errorMessage.String)
	}
	if startedAt.Valid {
		rec.SetStartedAt(&startedAt.Time)
	}
	if completedAt.Valid {
		rec.SetCompletedAt(&completedAt.Time)
	}
	if deletedAt.Valid {
		rec.SetDeletedAt(&deletedAt.Time)
	}
	return rec, nil
}

func (r *MigrationRepository) loadChildren(rec *models.MigrationRecord) error {
	rows, err := r.db.Query(`
		SELECT cid, mime_type, stage, cause, recorded_at
		FROM missing_blobs WHERE migration_id = ? ORDER BY position`, rec.ID())
	if err != nil {
		return fmt.Errorf("failed to query missing blobs: %w", err)
	}
	for rows.Next() {
		var mb models.MissingBlob
		if err := rows.Scan(&mb.CID, &mb.MimeType, &mb.Stage, &mb.Cause, &mb.RecordedAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan missing blob: %w", err)
		}
		rec.AddMissingBlob(mb)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	rows, err = r.db.Query(`
		SELECT cursor, cause, recorded_at
		FROM listing_gaps WHERE migration_id = ? ORDER BY position`, rec.ID())
	if err != nil {
		return fmt.Errorf("failed to query listing gaps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g models.ListingGap
		if err := rows.Scan(&g.Cursor, &g.Cause, &g.RecordedAt); err != nil {
			return fmt.Errorf("failed to scan listing gap: %w", err)
		}
		rec.AddListingGap(g)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	return nil
}

func writeChildren(tx *sql.Tx, id string, rec *models.MigrationRecord) error {
	for i, mb := range rec.MissingBlobs() {
		_, err := tx.Exec(`
			INSERT INTO missing_blobs (migration_id, position, cid, mime_type, stage, cause, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, i, mb.CID, mb.MimeType, mb.Stage, mb.Cause, mb.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert missing blob %s: %w", mb.CID, err)
		}
	}

	for i, g := range rec.ListingGaps() {
		_, err := tx.Exec(`
			INSERT INTO listing_gaps (migration_id, position, cursor, cause, recorded_at)
			VALUES (?, ?, ?, ?, ?)`,
			id, i, g.Cursor, g.Cause, g.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert listing gap: %w", err)
		}
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinSteps(steps []models.Step) string {
	parts := make([]string, len(steps))
	for i, step := range steps {
		parts[i] = string(step)
	}
	return strings.Join(parts, ",")
}
