// package models defines the data model for the account migration tool
package models

import (
	"time"
)

// Model is anything the local store persists. Migration records are the only
// implementation; the interface keeps the repository generic over it.
type Model interface {
	ID() string
	CreatedAt() time.Time
	UpdatedAt() time.Time
	// Validate rejects records that must not reach the database, such as a
	// record without a DID or target host.
	Validate() error
}

// Repository is the data access surface for one model type. Deletes are soft:
// a deleted row stays in the table but is hidden from Get and List.
type Repository[T Model] interface {
	Create(model T) error                      // Create inserts a new model into the database
	Get(id string) (T, error)                  // Get retrieves a model by its ID
	Update(model T) error                      // Update modifies an existing model in the database
	Delete(id string) error                    // Delete removes a model from the database by its ID
	List(criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}
