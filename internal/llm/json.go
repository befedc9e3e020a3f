package llm

import "strings"

// ExtractJSONArray returns the first bracketed JSON array substring of an
// LLM response: from the first '[' to the last ']'. Models wrap arrays in
// prose or markdown code fences; the bracket scan skips both.
func ExtractJSONArray(text string) (string, bool) {
	i := strings.Index(text, "[")
	j := strings.LastIndex(text, "]")
	if i < 0 || j <= i {
		return "", false
	}
	return text[i : j+1], true
}
