// Package extract runs rule matching line by line over documents, with an
// optional LLM fallback as a second chance, and persists the aggregate.
package extract

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/clinlabs/notex/internal/rules"
)

// Document is one unit of input: an identifier plus the raw note text.
type Document struct {
	DocID   string `json:"doc_id"`
	RawText string `json:"raw_text"`
}

// Line and document statuses.
const (
	StatusOK      = "ok"
	StatusNoMatch = "no_match"
	StatusFailed  = "failed"
)

// LineResult is the outcome for one non-blank line of a document.
type LineResult struct {
	LineNumber int               `json:"line_number"`
	LineText   string            `json:"line_text"`
	Extracted  []rules.Parameter `json:"extracted"`
	Status     string            `json:"status"`
}

// DocumentResult aggregates all line results for one document. Status is
// failed iff nothing was extracted from any line.
type DocumentResult struct {
	DocID       string            `json:"doc_id"`
	RawText     string            `json:"raw_text"`
	Extracted   []rules.Parameter `json:"extracted"`
	Status      string            `json:"status"`
	LineResults []LineResult      `json:"line_results"`
}

// Failure is one append-only log entry for a document whose extraction
// yielded nothing or raised an error.
type Failure struct {
	DocID   string `json:"doc_id"`
	RawText string `json:"raw_text"`
	Reason  string `json:"reason"`
}

// Annotation is a human-supplied correct parameter for a document, used as
// ground truth when synthesizing replacement rules.
type Annotation struct {
	DocID      string `json:"doc_id"`
	RawText    string `json:"raw_text"`
	ParamName  string `json:"param_name"`
	ParamValue string `json:"param_value"`
}

// Fallback is a second-chance extractor invoked when no rule matches a
// line. Implementations never return an error; failures degrade to an
// empty result.
type Fallback interface {
	Extract(ctx context.Context, text string) []rules.Parameter
}

// Sink persists batch results and failure records.
type Sink interface {
	SaveResults(results []DocumentResult) error
	LogFailure(docID, rawText, reason string)
}

// Processor applies a rule snapshot to documents. The rule set is passed
// per call so a batch sees one consistent snapshot even while a retrain
// replaces the store.
type Processor struct {
	matcher  *rules.Matcher
	fallback Fallback
	sink     Sink
}

// NewProcessor creates a processor. fallback may be nil when the LLM
// feature is off.
func NewProcessor(matcher *rules.Matcher, fallback Fallback, sink Sink) *Processor {
	return &Processor{matcher: matcher, fallback: fallback, sink: sink}
}

// ProcessLine matches all rules against one line, falling back to the LLM
// when rules find nothing. number is the 1-based position in the original
// document split.
func (p *Processor) ProcessLine(ctx context.Context, number int, line string, ruleSet []rules.Rule) LineResult {
	extracted := p.matcher.MatchAll(ruleSet, line)
	if len(extracted) == 0 && p.fallback != nil {
		extracted = p.fallback.Extract(ctx, line)
	}
	status := StatusOK
	if len(extracted) == 0 {
		status = StatusNoMatch
		extracted = []rules.Parameter{}
	}
	return LineResult{LineNumber: number, LineText: line, Extracted: extracted, Status: status}
}

// ProcessDocument splits the raw text on newlines and processes each
// non-blank line. Line numbers count blank lines so they match the source
// document. Any panic while processing is converted into a failed result
// with an exception failure record; it never aborts the batch.
func (p *Processor) ProcessDocument(ctx context.Context, doc Document, ruleSet []rules.Rule) (result DocumentResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("error processing doc %s: %v", doc.DocID, r)
			p.sink.LogFailure(doc.DocID, doc.RawText, fmt.Sprintf("exception:%v", r))
			result = DocumentResult{
				DocID:     doc.DocID,
				RawText:   doc.RawText,
				Extracted: []rules.Parameter{},
				Status:    StatusFailed,
			}
		}
	}()

	var lineResults []LineResult
	for i, raw := range strings.Split(doc.RawText, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lineResults = append(lineResults, p.ProcessLine(ctx, i+1, line, ruleSet))
	}

	var all []rules.Parameter
	for _, lr := range lineResults {
		all = append(all, lr.Extracted...)
	}

	if len(all) == 0 {
		p.sink.LogFailure(doc.DocID, doc.RawText, "no_extraction")
		return DocumentResult{
			DocID:       doc.DocID,
			RawText:     doc.RawText,
			Extracted:   []rules.Parameter{},
			Status:      StatusFailed,
			LineResults: lineResults,
		}
	}

	return DocumentResult{
		DocID:       doc.DocID,
		RawText:     doc.RawText,
		Extracted:   all,
		Status:      StatusOK,
		LineResults: lineResults,
	}
}

// ProcessBatch processes documents independently and in input order, then
// persists the full result set before returning.
func (p *Processor) ProcessBatch(ctx context.Context, docs []Document, ruleSet []rules.Rule) []DocumentResult {
	results := make([]DocumentResult, 0, len(docs))
	for _, doc := range docs {
		results = append(results, p.ProcessDocument(ctx, doc, ruleSet))
	}

	if err := p.sink.SaveResults(results); err != nil {
		log.Printf("saving batch results: %v", err)
	}

	ok := 0
	for _, r := range results {
		if r.Status == StatusOK {
			ok++
		}
	}
	log.Printf("batch complete: %d documents, %d ok, %d failed", len(results), ok, len(results)-ok)
	return results
}
