package llm

import (
	"context"
	"encoding/json"
	"log"

	"github.com/clinlabs/notex/internal/rules"
)

const extractSystemPrompt = `你是一个专业的医疗文本分析助手。请从医疗文本中提取关键参数信息。
请识别并提取以下类型的参数：
- LVEF（左室射血分数）：数值百分比，如 45%、60% 等
- 左室收缩功能：描述性状态，如 降低、减弱、正常、下降等
- PASP（肺动脉收缩压）：数值，如 48mmHg、60mmHg 等
- 其他医疗参数

请以 JSON 格式返回结果，格式为：[{"param_name": "参数名", "param_value": "参数值"}, ...]`

// Extractor is the second-chance extraction client used when rule matching
// finds nothing in a line. It never returns an error to the caller:
// disabled, unconfigured, failed or unparsable calls all degrade to an
// empty result, with the cause logged.
type Extractor struct {
	provider  Provider
	enabled   bool
	maxTokens int
}

// NewExtractor creates an extraction client. provider may be nil when the
// feature is off.
func NewExtractor(provider Provider, enabled bool, maxTokens int) *Extractor {
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &Extractor{provider: provider, enabled: enabled, maxTokens: maxTokens}
}

// Extract asks the model for parameters in the given text.
func (e *Extractor) Extract(ctx context.Context, text string) []rules.Parameter {
	if !e.enabled || e.provider == nil || !e.provider.IsConfigured() {
		return nil
	}

	user := "请从以下医疗文本中提取关键参数信息：\n\n" + text
	content, err := e.provider.Generate(ctx, extractSystemPrompt, user, e.maxTokens)
	if err != nil {
		log.Printf("extraction fallback call failed (%s): %v", ClassifyError(err), err)
		return nil
	}

	raw, ok := ExtractJSONArray(content)
	if !ok {
		log.Printf("extraction fallback response had no JSON array: %s", content)
		return nil
	}

	var params []rules.Parameter
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		log.Printf("extraction fallback response unparsable: %v", err)
		return nil
	}

	log.Printf("extraction fallback produced %d parameters", len(params))
	return params
}
