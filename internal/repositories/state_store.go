package repositories

import (
	"github.com/desertthunder/atx/internal/models"
)

// StateStore persists workflow state through a [MigrationRepository].
type StateStore struct {
	repo *MigrationRepository
}

func NewStateStore(repo *MigrationRepository) *StateStore {
	return &StateStore{repo: repo}
}

func (s *StateStore) Latest(did, targetHost string) (*models.MigrationRecord, error) {
	return s.repo.Latest(did, targetHost)
}

// Save creates rec on first save and updates it afterwards.
func (s *StateStore) Save(rec *models.MigrationRecord) error {
	if rec.ID() == "" {
		return s.repo.Create(rec)
	}
	return s.repo.Update(rec)
}
