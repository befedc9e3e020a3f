package rules

import (
	"log"
	"regexp"
	"strings"
	"unicode/utf8"
)

// keywordWindow is how many runes past a keyword hit are scanned for a value.
const keywordWindow = 40

// Vocabulary is the set of value tokens the keyword fallback accepts, beyond
// numeric percent tokens which are always recognized. It is a plain list so
// deployments can extend it without touching the matcher.
type Vocabulary struct {
	// Terms are descriptive findings as they appear in notes.
	Terms []string
	// Literals are exact value spellings seen in notes that the terms and
	// numeric patterns miss.
	Literals []string
}

// DefaultVocabulary covers the descriptive findings and literal values seen
// in echocardiography notes.
var DefaultVocabulary = Vocabulary{
	Terms:    []string{"降低", "减弱", "正常", "减低", "下降"},
	Literals: []string{"四成", "40%", "38%"},
}

// compile builds the window-scan pattern: terms first, then numeric percent
// tokens, then literal fallbacks. Alternation order matters: Go regexp picks
// the first alternative at the leftmost match position.
func (v Vocabulary) compile() *regexp.Regexp {
	alts := make([]string, 0, len(v.Terms)+len(v.Literals)+2)
	for _, t := range v.Terms {
		alts = append(alts, regexp.QuoteMeta(t))
	}
	alts = append(alts, `[0-9]{1,3}\s*%`, `[0-9]{1,3}％`)
	for _, l := range v.Literals {
		alts = append(alts, regexp.QuoteMeta(l))
	}
	return regexp.MustCompile("(?i)(" + strings.Join(alts, "|") + ")")
}

// Matcher applies rules to single lines of note text.
type Matcher struct {
	vocab *regexp.Regexp
}

// NewMatcher creates a matcher with the given value vocabulary.
func NewMatcher(v Vocabulary) *Matcher {
	return &Matcher{vocab: v.compile()}
}

// Match applies one rule to one line. The regex is tried first; the keyword
// window scan only runs when the regex finds nothing. A rule produces at
// most one parameter per line.
func (m *Matcher) Match(r Rule, line string) (Parameter, bool) {
	if r.Regex != "" {
		re, err := regexp.Compile("(?i)" + r.Regex)
		if err != nil {
			log.Printf("rule %q has an unusable regex, falling back to keywords: %v", r.Name, err)
		} else if sub := re.FindStringSubmatch(line); sub != nil {
			return Parameter{Name: r.Name, Value: pickValue(sub)}, true
		}
	}

	lower := strings.ToLower(line)
	for _, kw := range r.Keywords {
		idx := strings.Index(lower, strings.ToLower(kw))
		if idx < 0 || idx >= len(line) {
			continue
		}
		window := runeWindow(line, idx, utf8.RuneCountInString(kw)+keywordWindow)
		if tok := m.vocab.FindString(window); tok != "" {
			return Parameter{Name: r.Name, Value: strings.TrimSpace(tok)}, true
		}
	}
	return Parameter{}, false
}

// MatchAll applies every rule independently to the line. A line may yield
// several parameters, one per rule that matched, in rule order.
func (m *Matcher) MatchAll(rules []Rule, line string) []Parameter {
	var out []Parameter
	for _, r := range rules {
		if p, ok := m.Match(r, line); ok {
			out = append(out, p)
		}
	}
	return out
}

// pickValue selects the value from a regex submatch: the rightmost non-empty
// capture group containing a digit or percent sign, else the last non-empty
// group, else the full match when nothing was captured.
func pickValue(sub []string) string {
	var groups []string
	for _, g := range sub[1:] {
		if g != "" {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		return strings.TrimSpace(sub[0])
	}
	for i := len(groups) - 1; i >= 0; i-- {
		if strings.ContainsAny(groups[i], "0123456789%％") {
			return strings.TrimSpace(groups[i])
		}
	}
	return strings.TrimSpace(groups[len(groups)-1])
}

// runeWindow returns up to n runes of s starting at byte offset start.
func runeWindow(s string, start, n int) string {
	if start < 0 || start >= len(s) {
		return ""
	}
	tail := s[start:]
	for i := range tail {
		if n == 0 {
			return tail[:i]
		}
		n--
	}
	return tail
}
