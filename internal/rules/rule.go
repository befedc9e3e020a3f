package rules

import (
	"regexp"
	"strings"
)

// Rule describes one extractable clinical parameter. The regex covers the
// structured form of a mention (a labelled value); the keywords cover prose
// mentions where no clean pattern exists. A rule with neither never matches.
type Rule struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords,omitempty"`
	Regex    string   `json:"regex,omitempty"`
}

// Parameter is a single extracted name/value pair.
type Parameter struct {
	Name  string `json:"param_name"`
	Value string `json:"param_value"`
}

// DefaultRules seed the store on first use: left ventricular ejection
// fraction and left ventricular contractile function.
var DefaultRules = []Rule{
	{
		Name:     "LVEF",
		Keywords: []string{"LVEF", "射血分数", "左室射血分数"},
		Regex:    `(LVEF[:=]?\s*([0-9]{1,3}\s*%?))|(射血分数[:：]?\s*([0-9]{1,3}\s*%?))`,
	},
	{
		Name:     "左室收缩功能",
		Keywords: []string{"左室收缩功能", "收缩功能", "左室收缩力", "心室肌收缩力"},
		Regex:    `(左室收缩功能(?:\s*[:：]?\s*)(降低|减弱|正常|减低|减低了|差|下降))|(收缩力(?:\s*[:：]?\s*)(降低|减弱|正常|下降|差))`,
	},
}

// Valid reports whether a rule can ever match: it needs a name and at least
// one keyword or a compilable regex.
func (r Rule) Valid() bool {
	if strings.TrimSpace(r.Name) == "" {
		return false
	}
	if r.Regex != "" {
		if _, err := regexp.Compile("(?i)" + r.Regex); err == nil {
			return true
		}
	}
	return len(r.Keywords) > 0
}
