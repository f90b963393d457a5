// Package store persists session records. The in-memory store is the
// default; the Postgres store lets a restarted gateway find records for
// browsers that are still running and re-attach to them.
package store

import (
	"context"
	"errors"

	"github.com/shehryarbajwa/browsergate/pkg/models"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("session record not found")

// Store keeps session records.
type Store interface {
	// Save inserts or replaces the record for s.ID.
	Save(ctx context.Context, s *models.Session) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Session, error)

	// List returns all records.
	List(ctx context.Context) ([]*models.Session, error)

	// Delete removes the record for id. Deleting a missing id is not an
	// error.
	Delete(ctx context.Context, id string) error

	// Close releases the store's resources.
	Close() error
}
