package store

import "github.com/starford/wunjo/internal/models"

// NoteStore defines the persistence operations the hub depends on.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type NoteStore interface {
	ListAll() ([]models.Note, error)
	Get(id string) (*models.Note, error)
	Insert(n models.Note) error
	Replace(id string, n models.Note) error
	Delete(id string) error
	SumCost() (float64, error)
	Close() error
}

// Verify *DB satisfies NoteStore at compile time.
var _ NoteStore = (*DB)(nil)
