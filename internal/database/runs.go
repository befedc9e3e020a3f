package database

import (
	"fmt"

	"github.com/clinlabs/notex/internal/extract"
)

// Run is one archived batch execution.
type Run struct {
	ID          int64  `json:"id"`
	StartedAt   string `json:"started_at"`
	DocCount    int    `json:"doc_count"`
	OKCount     int    `json:"ok_count"`
	FailedCount int    `json:"failed_count"`
	ParamCount  int    `json:"param_count"`
}

// RunDocument is one document within an archived run.
type RunDocument struct {
	RunID      int64  `json:"run_id"`
	DocID      string `json:"doc_id"`
	Status     string `json:"status"`
	ParamCount int    `json:"param_count"`
}

// Stats contains aggregate archive statistics.
type Stats struct {
	TotalRuns       int
	TotalDocuments  int
	FailedDocuments int
	TotalParameters int
}

// RecordRun archives one batch: a run row with aggregates plus one row per
// document, in a single transaction.
func (db *DB) RecordRun(results []extract.DocumentResult) (int64, error) {
	ok, failed, params := 0, 0, 0
	for _, r := range results {
		if r.Status == extract.StatusOK {
			ok++
		} else {
			failed++
		}
		params += len(r.Extracted)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning run transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO runs (doc_count, ok_count, failed_count, param_count) VALUES (?, ?, ?, ?)`,
		len(results), ok, failed, params,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}

	for _, r := range results {
		_, err := tx.Exec(
			`INSERT INTO run_documents (run_id, doc_id, status, param_count) VALUES (?, ?, ?, ?)`,
			runID, r.DocID, r.Status, len(r.Extracted),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting run document %s: %w", r.DocID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing run: %w", err)
	}
	return runID, nil
}

// GetRecentRuns returns the most recent runs, newest first.
func (db *DB) GetRecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(
		`SELECT id, started_at, doc_count, ok_count, failed_count, param_count
		 FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.DocCount, &r.OKCount, &r.FailedCount, &r.ParamCount); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRunDocuments returns the per-document rows of one run, in insert order.
func (db *DB) GetRunDocuments(runID int64) ([]RunDocument, error) {
	rows, err := db.conn.Query(
		`SELECT run_id, doc_id, status, param_count FROM run_documents WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []RunDocument
	for rows.Next() {
		var d RunDocument
		if err := rows.Scan(&d.RunID, &d.DocID, &d.Status, &d.ParamCount); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetStats returns aggregate archive statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	err := db.conn.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(doc_count), 0),
			COALESCE(SUM(failed_count), 0),
			COALESCE(SUM(param_count), 0)
		FROM runs`).Scan(&s.TotalRuns, &s.TotalDocuments, &s.FailedDocuments, &s.TotalParameters)
	if err != nil {
		return nil, err
	}
	return s, nil
}
