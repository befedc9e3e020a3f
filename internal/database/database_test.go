package database

import (
	"path/filepath"
	"testing"

	"github.com/clinlabs/notex/internal/extract"
	"github.com/clinlabs/notex/internal/rules"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleResults() []extract.DocumentResult {
	return []extract.DocumentResult{
		{
			DocID:     "d1",
			Status:    extract.StatusOK,
			Extracted: []rules.Parameter{{Name: "LVEF", Value: "45%"}, {Name: "左室收缩功能", Value: "降低"}},
		},
		{
			DocID:     "d2",
			Status:    extract.StatusFailed,
			Extracted: []rules.Parameter{},
		},
	}
}

func TestRecordRun(t *testing.T) {
	db := openTestDB(t)

	runID, err := db.RecordRun(sampleResults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runID == 0 {
		t.Error("expected non-zero run ID")
	}

	runs, err := db.GetRecentRuns(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.DocCount != 2 || r.OKCount != 1 || r.FailedCount != 1 || r.ParamCount != 2 {
		t.Errorf("unexpected run aggregates: %+v", r)
	}
	if r.StartedAt == "" {
		t.Error("expected started_at to be set")
	}
}

func TestGetRunDocuments(t *testing.T) {
	db := openTestDB(t)
	runID, err := db.RecordRun(sampleResults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	docs, err := db.GetRunDocuments(runID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].DocID != "d1" || docs[0].Status != extract.StatusOK || docs[0].ParamCount != 2 {
		t.Errorf("unexpected first document: %+v", docs[0])
	}
	if docs[1].DocID != "d2" || docs[1].Status != extract.StatusFailed {
		t.Errorf("unexpected second document: %+v", docs[1])
	}
}

func TestGetRecentRunsOrder(t *testing.T) {
	db := openTestDB(t)
	first, _ := db.RecordRun(sampleResults())
	second, _ := db.RecordRun(sampleResults())

	runs, err := db.GetRecentRuns(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != second || runs[1].ID != first {
		t.Errorf("expected newest run first: %+v", runs)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalRuns != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}

	db.RecordRun(sampleResults())
	db.RecordRun(sampleResults())

	stats, err = db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalRuns != 2 || stats.TotalDocuments != 4 || stats.FailedDocuments != 2 || stats.TotalParameters != 4 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
