package memory

import "errors"

var (
	ErrStore = errors.New("could not store data")
	ErrLoad  = errors.New("could not load data")
)

// Store persists the committed data of a Database, one file per entity type.
// data is a pointer to a slice of entities for Load and the slice itself for Store.
type Store interface {
	Store(fileName string, data any) error
	Load(fileName string, data any) error
}

var _ Store = (*noopStore)(nil)

// noopStore keeps the data in memory only. Load reports that nothing is stored.
type noopStore struct{}

func (noopStore) Store(string, any) error { return nil }

func (noopStore) Load(string, any) error { return errNothingStored }

var errNothingStored = errors.New("nothing stored")
