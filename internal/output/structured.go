package output

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/clinlabs/notex/internal/extract"
)

// SaveResults persists a full batch to both sink formats: the structured
// JSON record file and the flattened CSV table, each replaced wholesale.
func (s *Store) SaveResults(results []extract.DocumentResult) error {
	if err := s.saveJSON(results); err != nil {
		return err
	}
	return s.saveCSV(results)
}

func (s *Store) saveJSON(results []extract.DocumentResult) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding structured results: %w", err)
	}
	if err := os.WriteFile(s.StructuredJSONPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing structured results: %w", err)
	}
	return nil
}

func (s *Store) saveCSV(results []extract.DocumentResult) error {
	f, err := os.Create(s.structuredCSVPath())
	if err != nil {
		return fmt.Errorf("creating structured CSV: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"doc_id", "raw_text", "extracted_json", "status", "line_results_json"}); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, r := range results {
		extracted, err := json.Marshal(r.Extracted)
		if err != nil {
			return fmt.Errorf("encoding extracted for %s: %w", r.DocID, err)
		}
		lineResults, err := json.Marshal(r.LineResults)
		if err != nil {
			return fmt.Errorf("encoding line results for %s: %w", r.DocID, err)
		}
		row := []string{r.DocID, r.RawText, string(extracted), r.Status, string(lineResults)}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing CSV row for %s: %w", r.DocID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing structured CSV: %w", err)
	}
	return f.Close()
}

// LoadStructured returns the raw bytes of the last persisted structured
// results file. ok is false when no batch has been persisted yet.
func (s *Store) LoadStructured() (data []byte, ok bool, err error) {
	data, err = os.ReadFile(s.StructuredJSONPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading structured results: %w", err)
	}
	return data, true, nil
}
