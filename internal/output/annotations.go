package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/clinlabs/notex/internal/extract"
)

var annotationHeader = []string{"doc_id", "raw_text", "param_name", "param_value"}

// AppendAnnotation adds one annotation row, writing the header first if the
// table does not exist yet.
func (s *Store) AppendAnnotation(a extract.Annotation) error {
	s.annMu.Lock()
	defer s.annMu.Unlock()

	path := s.AnnotationsPath()
	_, statErr := os.Stat(path)
	newFile := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening annotations table: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if newFile {
		if err := w.Write(annotationHeader); err != nil {
			return fmt.Errorf("writing annotations header: %w", err)
		}
	}
	if err := w.Write([]string{a.DocID, a.RawText, a.ParamName, a.ParamValue}); err != nil {
		return fmt.Errorf("writing annotation row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing annotations table: %w", err)
	}
	return f.Close()
}

// ReplaceAnnotations overwrites the whole annotations table with uploaded
// bytes. The caller is responsible for the content matching the expected
// header layout.
func (s *Store) ReplaceAnnotations(data []byte) error {
	s.annMu.Lock()
	defer s.annMu.Unlock()

	if err := os.WriteFile(s.AnnotationsPath(), data, 0o644); err != nil {
		return fmt.Errorf("replacing annotations table: %w", err)
	}
	return nil
}

// ReadAnnotations returns all persisted annotations. A missing table yields
// an empty slice. Columns are resolved by header name so uploads with
// reordered columns still read correctly.
func (s *Store) ReadAnnotations() ([]extract.Annotation, error) {
	f, err := os.Open(s.AnnotationsPath())
	if errors.Is(err, os.ErrNotExist) {
		return []extract.Annotation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening annotations table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []extract.Annotation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading annotations header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	anns := []extract.Annotation{}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading annotation row: %w", err)
		}
		anns = append(anns, extract.Annotation{
			DocID:      field(row, "doc_id"),
			RawText:    field(row, "raw_text"),
			ParamName:  field(row, "param_name"),
			ParamValue: field(row, "param_value"),
		})
	}
	return anns, nil
}
