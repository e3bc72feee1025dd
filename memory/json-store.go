package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var _ Store = (*JSONStore)(nil)

// JSONStore persists the data as human-readable JSON files in a directory.
// It uses the standard marshalling of encoding/json and is not schema aware:
// changing the entity structs can lead to data loss.
// It is intended for local development and prototyping.
type JSONStore struct {
	mu  sync.Mutex
	dir string
}

func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: could not create directory %s: %w", ErrStore, dir, err)
	}

	return &JSONStore{dir: dir}, nil
}

// Store writes data into fileName. The file is replaced atomically.
func (s *JSONStore) Store(fileName string, data any) error {
	b, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStore, fileName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, fileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStore, fileName, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // does not exist any more after a successful rename

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %s: %w", ErrStore, fileName, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStore, fileName, err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, fileName)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStore, fileName, err)
	}

	return nil
}

// Load decodes fileName into data. If the file does not exist, the error matches os.ErrNotExist.
func (s *JSONStore) Load(fileName string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, fileName))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLoad, fileName, err)
	}

	return nil
}
