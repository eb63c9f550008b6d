package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"carlot/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrStoreWrite is returned when the catalogue file cannot be written.
var ErrStoreWrite = errors.New("catalogue write failed")

// Store keeps the catalogue as a single JSON array on disk.
//
// Every Append rewrites the whole file. The read-modify-write cycle runs under
// mu so concurrent appends cannot lose each other's records.
type Store struct {
	path string
	mu   sync.RWMutex
}

// Open returns a Store backed by path, creating an empty catalogue if the
// file does not exist yet.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalogue directory for '%s': %w", path, err)
	}

	s := &Store{path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write([]models.Car{}); err != nil {
			return nil, err
		}
		log.Info().Str("path", path).Msg("created empty catalogue")
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat catalogue '%s': %w", path, err)
	}
	return s, nil
}

// Path returns the catalogue file location.
func (s *Store) Path() string {
	return s.path
}

// List returns every record in creation order. A missing or unreadable
// catalogue is reported as empty.
func (s *Store) List() []models.Car {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadOrEmpty(s.path)
}

// Count returns the number of records currently persisted.
func (s *Store) Count() int {
	return len(s.List())
}

// Append adds car to the end of the catalogue and persists the full list.
func (s *Store) Append(car models.Car) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cars, err := load(s.path)
	if err != nil {
		// Keep the unreadable file around instead of overwriting it.
		if qerr := s.quarantine(); qerr != nil {
			return qerr
		}
		log.Warn().Err(err).Str("path", s.path).Msg("catalogue unreadable, starting a fresh one")
		cars = []models.Car{}
	}

	cars = append(cars, car)
	return s.write(cars)
}

// loadOrEmpty reads the catalogue and treats any failure as an empty list.
// Callers must tolerate losing the view of a corrupt file.
func loadOrEmpty(path string) []models.Car {
	cars, err := load(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("catalogue unreadable, reporting empty")
		return []models.Car{}
	}
	return cars
}

func load(path string) ([]models.Car, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.Car{}, nil
		}
		return nil, fmt.Errorf("failed to read catalogue '%s': %w", path, err)
	}

	var cars []models.Car
	if err := json.Unmarshal(data, &cars); err != nil {
		return nil, fmt.Errorf("failed to parse catalogue '%s': %w", path, err)
	}
	if cars == nil {
		cars = []models.Car{}
	}
	for i := range cars {
		if cars[i].Images == nil {
			cars[i].Images = []string{}
		}
	}
	return cars, nil
}

// write replaces the catalogue with cars via a temp file and rename so readers
// never see a half-written file.
func (s *Store) write(cars []models.Car) error {
	data, err := json.MarshalIndent(cars, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrStoreWrite, err)
	}

	tmp := fmt.Sprintf("%s.%s.tmp", s.path, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: write '%s': %v", ErrStoreWrite, tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename to '%s': %v", ErrStoreWrite, s.path, err)
	}
	return nil
}

func (s *Store) quarantine() error {
	dest := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UnixNano())
	if err := os.Rename(s.path, dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: move corrupt catalogue aside: %v", ErrStoreWrite, err)
	}
	log.Warn().Str("path", s.path).Str("saved_as", dest).Msg("corrupt catalogue preserved")
	return nil
}
