// Package output owns the file-backed sinks: structured batch results,
// the append-only failure log, and the annotations table.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File names inside the data directory.
const (
	structuredJSONFile = "structured.json"
	structuredCSVFile  = "structured.csv"
	failuresFile       = "failures.jsonl"
	annotationsFile    = "annotations.csv"
)

// Store writes pipeline outputs under a single data directory. Appends to
// the failure log and annotations table are serialized so concurrent
// writers never interleave partial rows.
type Store struct {
	dir string

	failMu sync.Mutex
	annMu  sync.Mutex
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// StructuredJSONPath returns the path of the structured results file.
func (s *Store) StructuredJSONPath() string {
	return filepath.Join(s.dir, structuredJSONFile)
}

func (s *Store) structuredCSVPath() string {
	return filepath.Join(s.dir, structuredCSVFile)
}

func (s *Store) failuresPath() string {
	return filepath.Join(s.dir, failuresFile)
}

// AnnotationsPath returns the path of the annotations table.
func (s *Store) AnnotationsPath() string {
	return filepath.Join(s.dir, annotationsFile)
}
