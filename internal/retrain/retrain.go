// Package retrain turns human annotations into a replacement rule set via
// the synthesis client and applies it to the rule store.
package retrain

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/clinlabs/notex/internal/extract"
	"github.com/clinlabs/notex/internal/rules"
)

// Status values for a retrain outcome.
const (
	StatusNoAnnotations    = "no_annotations"
	StatusApplied          = "applied"
	StatusDisabled         = "disabled"
	StatusNoRulesGenerated = "no_rules_generated"
)

// Outcome describes one retrain cycle. Status is always one of the four
// defined values; retrain never raises to the caller.
type Outcome struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	RulesCount       int    `json:"rules_count,omitempty"`
	AnnotationsCount int    `json:"annotations_count,omitempty"`
}

// Annotations supplies the persisted ground-truth rows.
type Annotations interface {
	ReadAnnotations() ([]extract.Annotation, error)
}

// Synthesizer proposes a rule set from annotations. Enabled distinguishes
// "feature off" from "ran but produced nothing".
type Synthesizer interface {
	Enabled() bool
	GenerateRules(ctx context.Context, annotations []extract.Annotation) []rules.Rule
}

// Retrainer orchestrates the annotation -> synthesis -> rule replacement
// cycle. Runs are serialized: the rule file has a single writer.
type Retrainer struct {
	mu    sync.Mutex
	anns  Annotations
	synth Synthesizer
	store *rules.Store
}

// New creates a retrainer.
func New(anns Annotations, synth Synthesizer, store *rules.Store) *Retrainer {
	return &Retrainer{anns: anns, synth: synth, store: store}
}

// Run executes one retrain cycle.
func (r *Retrainer) Run(ctx context.Context) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	annotations, err := r.anns.ReadAnnotations()
	if err != nil {
		log.Printf("reading annotations for retrain: %v", err)
		return Outcome{Status: StatusNoAnnotations, Message: "标注数据无法读取"}
	}
	if len(annotations) == 0 {
		return Outcome{Status: StatusNoAnnotations, Message: "没有找到标注数据"}
	}

	log.Printf("starting retrain with %d annotations", len(annotations))
	newRules := r.synth.GenerateRules(ctx, annotations)

	if len(newRules) > 0 {
		if err := r.store.Replace(newRules); err != nil {
			log.Printf("applying synthesized rules: %v", err)
			return Outcome{
				Status:           StatusNoRulesGenerated,
				Message:          "新规则写入失败，规则库保持不变",
				AnnotationsCount: len(annotations),
			}
		}
		log.Printf("retrain applied %d new rules", len(newRules))
		return Outcome{
			Status:           StatusApplied,
			Message:          fmt.Sprintf("成功应用了 %d 条新规则", len(newRules)),
			RulesCount:       len(newRules),
			AnnotationsCount: len(annotations),
		}
	}

	if !r.synth.Enabled() {
		log.Println("retrain skipped: synthesis disabled")
		return Outcome{Status: StatusDisabled, Message: "模型功能未启用，无法进行规则重训练"}
	}

	log.Println("retrain finished: no rules generated")
	return Outcome{
		Status:           StatusNoRulesGenerated,
		Message:          "未生成新规则，规则库保持不变",
		AnnotationsCount: len(annotations),
	}
}
