package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrCorrupt indicates the persisted rule file exists but is not a valid
// JSON rule array. Callers get the error rather than a silent fall back to
// defaults, so data loss is never masked.
var ErrCorrupt = errors.New("rule file is corrupt")

// Store owns the active rule set, persisted as a single JSON file.
// Retrain is the only writer; Replace is serialized internally.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the rule file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted rules. If no rule file exists yet, it writes
// the default set and returns that.
func (s *Store) Load() ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.write(DefaultRules); err != nil {
			return nil, fmt.Errorf("seeding default rules: %w", err)
		}
		return append([]Rule(nil), DefaultRules...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}

	var out []Rule
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return out, nil
}

// Replace overwrites the persisted set wholesale. An empty input is a no-op
// that does not touch storage, so a failed synthesis can never wipe the
// active set.
func (s *Store) Replace(rules []Rule) error {
	if len(rules) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(rules)
}

// Reset restores the built-in default rules.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(DefaultRules)
}

// write persists rules atomically via a temp file and rename. Caller holds mu.
func (s *Store) write(rules []Rule) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating rules directory: %w", err)
	}

	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "rules-*.json")
	if err != nil {
		return fmt.Errorf("creating temp rule file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp rule file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing rule file: %w", err)
	}
	return nil
}
