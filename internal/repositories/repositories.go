package repositories

import (
	"database/sql"
	"fmt"
)

// NextSequence atomically increments and returns the next sequence number for the given table.
//
// Sequence numbers order migration records for `atx status`; "latest" means highest sequence.
func NextSequence(db *sql.DB, table string) (int, error) {
	seqTable := table + "_sequence"

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%s sequence: begin: %w", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE " + seqTable + " SET value = value + 1 WHERE id = 1"); err != nil {
		return 0, fmt.Errorf("%s sequence: increment: %w", table, err)
	}

	var next int
	if err := tx.QueryRow("SELECT value FROM " + seqTable + " WHERE id = 1").Scan(&next); err != nil {
		return 0, fmt.Errorf("%s sequence: read: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s sequence: commit: %w", table, err)
	}
	return next, nil
}
