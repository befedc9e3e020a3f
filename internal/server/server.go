// Package server exposes the extraction pipeline over HTTP: a JSON API for
// processing, outputs, annotations and retraining, plus a small report page.
package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/clinlabs/notex/internal/database"
	"github.com/clinlabs/notex/internal/extract"
	"github.com/clinlabs/notex/internal/ingest"
	"github.com/clinlabs/notex/internal/output"
	"github.com/clinlabs/notex/internal/retrain"
	"github.com/clinlabs/notex/internal/rules"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New()

const maxUploadBytes = 10 << 20

// Server is the HTTP shell around the extraction pipeline.
type Server struct {
	ruleStore *rules.Store
	processor *extract.Processor
	out       *output.Store
	db        *database.DB
	retrainer *retrain.Retrainer
	pages     map[string]*template.Template
	mux       *http.ServeMux
}

// New creates a new Server.
func New(ruleStore *rules.Store, processor *extract.Processor, out *output.Store, db *database.DB, retrainer *retrain.Retrainer) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		ruleStore: ruleStore,
		processor: processor,
		out:       out,
		db:        db,
		retrainer: retrainer,
		pages:     pages,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/api/process", s.handleProcess)
	s.mux.HandleFunc("/api/structured", s.handleStructured)
	s.mux.HandleFunc("/api/failures", s.handleFailures)
	s.mux.HandleFunc("/api/annotations/upload", s.handleAnnotationsUpload)
	s.mux.HandleFunc("/api/annotations/add", s.handleAnnotationsAdd)
	s.mux.HandleFunc("/api/retrain", s.handleRetrain)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/documents/upload", s.handleDocumentUpload)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req struct {
		Documents []extract.Document `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ruleSet, err := s.ruleStore.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("loading rules: %v", err))
		return
	}

	results := s.processor.ProcessBatch(r.Context(), req.Documents, ruleSet)
	s.archiveRun(results)

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleStructured(w http.ResponseWriter, r *http.Request) {
	data, ok, err := s.out.LoadStructured()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("reading structured output: %v", err))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no structured output yet, run a batch first")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="structured.json"`)
	w.Write(data)
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.out.LoadFailures()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("reading failures: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func (s *Server) handleAnnotationsUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("reading upload: %v", err))
		return
	}
	if err := s.out.ReplaceAnnotations(data); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("saving annotations: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "path": s.out.AnnotationsPath()})
}

func (s *Server) handleAnnotationsAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	ann := extract.Annotation{
		DocID:      strings.TrimSpace(r.FormValue("doc_id")),
		RawText:    strings.TrimSpace(r.FormValue("raw_text")),
		ParamName:  strings.TrimSpace(r.FormValue("param_name")),
		ParamValue: strings.TrimSpace(r.FormValue("param_value")),
	}
	if ann.DocID == "" || ann.RawText == "" || ann.ParamName == "" || ann.ParamValue == "" {
		writeError(w, http.StatusBadRequest, "doc_id, raw_text, param_name and param_value are required")
		return
	}

	if err := s.out.AppendAnnotation(ann); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("saving annotation: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	writeJSON(w, http.StatusOK, s.retrainer.Run(r.Context()))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.db.GetRecentRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("reading runs: %v", err))
		return
	}
	if runs == nil {
		runs = []database.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	docID := strings.TrimSpace(r.FormValue("doc_id"))
	if docID == "" {
		name := filepath.Base(header.Filename)
		docID = strings.TrimSuffix(name, filepath.Ext(name))
	}

	doc, err := ingest.FromUpload(header.Filename, docID, io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("reading document: %v", err))
		return
	}

	ruleSet, err := s.ruleStore.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("loading rules: %v", err))
		return
	}

	results := s.processor.ProcessBatch(r.Context(), []extract.Document{doc}, ruleSet)
	s.archiveRun(results)

	writeJSON(w, http.StatusOK, map[string]any{"result": results[0]})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	runs, err := s.db.GetRecentRuns(10)
	if err != nil {
		log.Printf("Error reading runs for index: %v", err)
	}

	s.render(w, "index.html", map[string]any{
		"Summary": s.summaryMarkdown(),
		"Runs":    runs,
	})
}

// archiveRun records the batch in the run archive. Archiving is reporting
// only, a failure must not fail the request.
func (s *Server) archiveRun(results []extract.DocumentResult) {
	if len(results) == 0 {
		return
	}
	if _, err := s.db.RecordRun(results); err != nil {
		log.Printf("Error archiving run: %v", err)
	}
}

// summaryMarkdown composes the index page overview.
func (s *Server) summaryMarkdown() string {
	var b strings.Builder
	b.WriteString("## 处理概况\n\n")

	stats, err := s.db.GetStats()
	if err != nil {
		log.Printf("Error reading stats: %v", err)
		b.WriteString("统计信息暂不可用。\n")
		return b.String()
	}

	fmt.Fprintf(&b, "- 批次总数：%d\n", stats.TotalRuns)
	fmt.Fprintf(&b, "- 文档总数：%d（失败 %d）\n", stats.TotalDocuments, stats.FailedDocuments)
	fmt.Fprintf(&b, "- 提取参数总数：%d\n", stats.TotalParameters)

	if ruleSet, err := s.ruleStore.Load(); err == nil {
		fmt.Fprintf(&b, "- 当前规则数：%d\n", len(ruleSet))
	}
	return b.String()
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(ruleStore *rules.Store, processor *extract.Processor, out *output.Store, db *database.DB, retrainer *retrain.Retrainer, port int) error {
	srv, err := New(ruleStore, processor, out, db, retrainer)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
