package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/clinlabs/notex/internal/extract"
)

// LogFailure appends one failure record to the JSON Lines log. The record
// is written as a single buffered write under a lock. Append errors are
// logged rather than returned: a broken failure log must not abort the
// batch it is reporting on.
func (s *Store) LogFailure(docID, rawText, reason string) {
	entry := extract.Failure{DocID: docID, RawText: rawText, Reason: reason}
	line, err := json.Marshal(entry)
	if err != nil {
		log.Printf("encoding failure record for %s: %v", docID, err)
		return
	}

	s.failMu.Lock()
	defer s.failMu.Unlock()

	f, err := os.OpenFile(s.failuresPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("opening failure log: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Printf("appending failure record: %v", err)
	}
	log.Printf("failure: %s reason=%s", docID, reason)
}

// LoadFailures reads all failure records. A missing log yields an empty
// slice, not an error.
func (s *Store) LoadFailures() ([]extract.Failure, error) {
	f, err := os.Open(s.failuresPath())
	if errors.Is(err, os.ErrNotExist) {
		return []extract.Failure{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening failure log: %w", err)
	}
	defer f.Close()

	failures := []extract.Failure{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry extract.Failure
		if err := json.Unmarshal(line, &entry); err != nil {
			log.Printf("skipping malformed failure record: %v", err)
			continue
		}
		failures = append(failures, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading failure log: %w", err)
	}
	return failures, nil
}
