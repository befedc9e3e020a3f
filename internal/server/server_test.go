package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clinlabs/notex/internal/database"
	"github.com/clinlabs/notex/internal/extract"
	"github.com/clinlabs/notex/internal/llm"
	"github.com/clinlabs/notex/internal/output"
	"github.com/clinlabs/notex/internal/retrain"
	"github.com/clinlabs/notex/internal/rules"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()

	ruleStore := rules.NewStore(filepath.Join(dir, "rules.json"))

	out, err := output.NewStore(filepath.Join(dir, "outputs"))
	if err != nil {
		t.Fatalf("failed to create output store: %v", err)
	}

	db, err := database.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	processor := extract.NewProcessor(rules.NewMatcher(rules.DefaultVocabulary), nil, out)
	retrainer := retrain.New(out, llm.NewSynthesizer(nil, false, 0), ruleStore)

	srv, err := New(ruleStore, processor, out, db, retrainer)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var parsed map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("response is not JSON: %v\nbody: %s", err, rec.Body.String())
	}
	return rec, parsed
}

func TestProcessBatch(t *testing.T) {
	srv := newTestServer(t)

	body := `{"documents":[
		{"doc_id":"doc-1","raw_text":"LVEF: 45%"},
		{"doc_id":"doc-2","raw_text":"没有任何相关内容"}
	]}`
	rec, parsed := doJSON(t, srv, "POST", "/api/process", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	results, ok := parsed["results"].([]any)
	if !ok || len(results) != 2 {
		t.Fatalf("expected 2 results, got %v", parsed["results"])
	}

	first := results[0].(map[string]any)
	if first["status"] != "ok" {
		t.Errorf("expected doc-1 status ok, got %v", first["status"])
	}
	second := results[1].(map[string]any)
	if second["status"] != "failed" {
		t.Errorf("expected doc-2 status failed, got %v", second["status"])
	}
}

func TestProcessRejectsBadBody(t *testing.T) {
	srv := newTestServer(t)

	rec, parsed := doJSON(t, srv, "POST", "/api/process", "not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if parsed["error"] == nil {
		t.Error("expected error message in response")
	}
}

func TestStructuredDownload(t *testing.T) {
	srv := newTestServer(t)

	// Before any batch the file does not exist.
	rec, _ := doJSON(t, srv, "GET", "/api/structured", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before processing, got %d", rec.Code)
	}

	doJSON(t, srv, "POST", "/api/process", `{"documents":[{"doc_id":"d1","raw_text":"LVEF: 45%"}]}`)

	req := httptest.NewRequest("GET", "/api/structured", nil)
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req)

	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec2.Code)
	}
	if !strings.Contains(rec2.Header().Get("Content-Disposition"), "structured.json") {
		t.Errorf("expected download disposition, got %q", rec2.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(rec2.Body.String(), "d1") {
		t.Error("expected processed document in download")
	}
}

func TestFailuresEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec, parsed := doJSON(t, srv, "GET", "/api/failures", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	failures, ok := parsed["failures"].([]any)
	if !ok {
		t.Fatalf("expected failures array, got %v", parsed["failures"])
	}
	if len(failures) != 0 {
		t.Errorf("expected no failures yet, got %d", len(failures))
	}

	doJSON(t, srv, "POST", "/api/process", `{"documents":[{"doc_id":"d1","raw_text":"无关文本"}]}`)

	_, parsed = doJSON(t, srv, "GET", "/api/failures", "")
	failures = parsed["failures"].([]any)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	f := failures[0].(map[string]any)
	if f["reason"] != "no_extraction" {
		t.Errorf("expected reason no_extraction, got %v", f["reason"])
	}
}

func TestAnnotationsAddAndRetrain(t *testing.T) {
	srv := newTestServer(t)

	// Without annotations retrain reports there is nothing to learn from.
	rec, parsed := doJSON(t, srv, "POST", "/api/retrain", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if parsed["status"] != retrain.StatusNoAnnotations {
		t.Errorf("expected status %s, got %v", retrain.StatusNoAnnotations, parsed["status"])
	}

	form := "doc_id=d1&raw_text=LVEF%3A+45%25&param_name=LVEF&param_value=45%25"
	req := httptest.NewRequest("POST", "/api/annotations/add", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 adding annotation, got %d: %s", rec2.Code, rec2.Body.String())
	}

	// The synthesizer is disabled in tests, so retrain now reports that.
	_, parsed = doJSON(t, srv, "POST", "/api/retrain", "")
	if parsed["status"] != retrain.StatusDisabled {
		t.Errorf("expected status %s, got %v", retrain.StatusDisabled, parsed["status"])
	}
}

func TestAnnotationsAddRequiresFields(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/annotations/add", strings.NewReader("doc_id=d1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for incomplete form, got %d", rec.Code)
	}
}

func TestAnnotationsUpload(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "annotations.csv")
	if err != nil {
		t.Fatalf("failed to build multipart body: %v", err)
	}
	fw.Write([]byte("doc_id,raw_text,param_name,param_value\nd1,LVEF: 45%,LVEF,45%\n"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/annotations/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	anns, err := srv.out.ReadAnnotations()
	if err != nil {
		t.Fatalf("failed to read annotations back: %v", err)
	}
	if len(anns) != 1 || anns[0].ParamName != "LVEF" {
		t.Errorf("expected uploaded annotation, got %+v", anns)
	}
}

func TestRunsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec, parsed := doJSON(t, srv, "GET", "/api/runs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	runs, ok := parsed["runs"].([]any)
	if !ok || len(runs) != 0 {
		t.Fatalf("expected empty runs array, got %v", parsed["runs"])
	}

	doJSON(t, srv, "POST", "/api/process", `{"documents":[{"doc_id":"d1","raw_text":"LVEF: 45%"}]}`)

	_, parsed = doJSON(t, srv, "GET", "/api/runs", "")
	runs = parsed["runs"].([]any)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0].(map[string]any)
	if run["doc_count"].(float64) != 1 || run["ok_count"].(float64) != 1 {
		t.Errorf("unexpected run aggregates: %v", run)
	}
}

func TestRunsRejectsBadLimit(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := doJSON(t, srv, "GET", "/api/runs?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestDocumentUpload(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "note.txt")
	if err != nil {
		t.Fatalf("failed to build multipart body: %v", err)
	}
	fw.Write([]byte("超声所见：LVEF: 45%\n"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var parsed map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	result := parsed["result"].(map[string]any)
	if result["doc_id"] != "note" {
		t.Errorf("expected doc_id from filename, got %v", result["doc_id"])
	}
	if result["status"] != "ok" {
		t.Errorf("expected status ok, got %v", result["status"])
	}
}

func TestIndexRoute(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "处理概况") {
		t.Error("expected summary heading in response body")
	}
}
