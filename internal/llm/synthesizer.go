package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/clinlabs/notex/internal/extract"
	"github.com/clinlabs/notex/internal/rules"
)

// Sampling bounds keep the synthesis request small: the working sample is
// capped, and only a prefix of it is rendered into the prompt text.
const (
	sampleLimit = 20
	promptLimit = 10
)

const synthesisSystemPrompt = `你是一个专业的规则生成助手。请基于提供的标注数据生成 JSON 格式的解析规则。

规则格式要求：
{
    "name": "参数名称",
    "keywords": ["关键词1", "关键词2", ...],
    "regex": "正则表达式模式"
}

规则生成原则：
1. 基于标注数据中的参数名称和值模式生成
2. 关键词应覆盖参数的各种表达方式
3. 正则表达式应能准确匹配参数值
4. 规则应具有通用性，能处理类似情况

请返回 JSON 数组格式的规则列表。`

// Synthesizer turns human annotations into a proposed replacement rule set.
// Like the Extractor it never returns an error; callers use Enabled to tell
// "feature off" apart from "ran but produced nothing".
type Synthesizer struct {
	provider  Provider
	enabled   bool
	maxTokens int
}

// NewSynthesizer creates a rule synthesis client.
func NewSynthesizer(provider Provider, enabled bool, maxTokens int) *Synthesizer {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Synthesizer{provider: provider, enabled: enabled, maxTokens: maxTokens}
}

// Enabled reports whether the synthesis feature can make a call at all.
func (s *Synthesizer) Enabled() bool {
	return s.enabled && s.provider != nil && s.provider.IsConfigured()
}

// GenerateRules proposes a rule set from the annotations. Rules whose shape
// is unusable (no name, neither keywords nor a compilable regex) are
// discarded so garbage output can never replace the active set.
func (s *Synthesizer) GenerateRules(ctx context.Context, annotations []extract.Annotation) []rules.Rule {
	if !s.Enabled() {
		log.Println("rule synthesis disabled or unconfigured")
		return nil
	}
	if len(annotations) == 0 {
		return nil
	}

	sample := annotations
	if len(sample) > sampleLimit {
		sample = sample[:sampleLimit]
	}

	lines := make([]string, 0, promptLimit)
	for i, a := range sample {
		if i == promptLimit {
			break
		}
		lines = append(lines, fmt.Sprintf("文本: %s -> 参数: %s = %s", a.RawText, a.ParamName, a.ParamValue))
	}
	user := fmt.Sprintf("请基于以下标注数据生成解析规则：\n\n%s\n\n请生成适用于这些标注数据的 JSON 规则数组。",
		strings.Join(lines, "\n"))

	log.Printf("requesting rule synthesis from %d annotations", len(annotations))
	content, err := s.provider.Generate(ctx, synthesisSystemPrompt, user, s.maxTokens)
	if err != nil {
		log.Printf("rule synthesis call failed (%s): %v", ClassifyError(err), err)
		return nil
	}

	raw, ok := ExtractJSONArray(content)
	if !ok {
		log.Printf("rule synthesis response had no JSON array: %s", content)
		return nil
	}

	var generated []rules.Rule
	if err := json.Unmarshal([]byte(raw), &generated); err != nil {
		log.Printf("rule synthesis response unparsable: %v", err)
		return nil
	}

	var valid []rules.Rule
	for _, r := range generated {
		if r.Valid() {
			valid = append(valid, r)
		} else {
			log.Printf("discarding unusable synthesized rule %q", r.Name)
		}
	}
	if len(valid) < len(generated) {
		log.Printf("kept %d of %d synthesized rules", len(valid), len(generated))
	}
	return valid
}
