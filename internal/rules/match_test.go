package rules

import (
	"strings"
	"testing"
)

func defaultMatcher() *Matcher {
	return NewMatcher(DefaultVocabulary)
}

func TestMatchLVEFNumeric(t *testing.T) {
	m := defaultMatcher()
	p, ok := m.Match(DefaultRules[0], "LVEF: 45%")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Name != "LVEF" {
		t.Errorf("expected param name LVEF, got %q", p.Name)
	}
	if p.Value != "45%" {
		t.Errorf("expected value 45%%, got %q", p.Value)
	}
}

func TestMatchContractileRegex(t *testing.T) {
	m := defaultMatcher()
	p, ok := m.Match(DefaultRules[1], "左室收缩功能降低")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Value != "降低" {
		t.Errorf("expected value 降低, got %q", p.Value)
	}
}

func TestMatchPicksRightmostNumericGroup(t *testing.T) {
	// The qualifying group is not the last one; selection must scan from the
	// right and stop at the first group containing a digit or percent sign.
	r := Rule{Name: "EF", Regex: `(ef[a-z]*)\s*([0-9]+%)\s*(estimated)`}
	m := defaultMatcher()
	p, ok := m.Match(r, "EF 52% estimated")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Value != "52%" {
		t.Errorf("expected value 52%%, got %q", p.Value)
	}
}

func TestMatchFullWidthPercentQualifies(t *testing.T) {
	r := Rule{Name: "LVEF", Regex: `(射血分数)[:：]?\s*([0-9]{1,3}％)`}
	m := defaultMatcher()
	p, ok := m.Match(r, "射血分数：45％")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Value != "45％" {
		t.Errorf("expected value 45％, got %q", p.Value)
	}
}

func TestMatchNoGroupsUsesFullMatch(t *testing.T) {
	r := Rule{Name: "PASP", Regex: `PASP`}
	m := defaultMatcher()
	p, ok := m.Match(r, "note mentions pasp in passing")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Value != "pasp" {
		t.Errorf("expected value pasp, got %q", p.Value)
	}
}

func TestMatchKeywordWindowDescriptive(t *testing.T) {
	r := Rule{Name: "收缩功能", Keywords: []string{"收缩功能"}}
	m := defaultMatcher()
	p, ok := m.Match(r, "心脏收缩功能较前减弱")
	if !ok {
		t.Fatal("expected a keyword match")
	}
	if p.Value != "减弱" {
		t.Errorf("expected value 减弱, got %q", p.Value)
	}
}

func TestMatchKeywordWindowNumeric(t *testing.T) {
	r := Rule{Name: "LVEF", Keywords: []string{"射血分数"}}
	m := defaultMatcher()
	p, ok := m.Match(r, "超声提示射血分数测值约为 38%")
	if !ok {
		t.Fatal("expected a keyword match")
	}
	if p.Value != "38%" {
		t.Errorf("expected value 38%%, got %q", p.Value)
	}
}

func TestMatchKeywordWindowClips(t *testing.T) {
	r := Rule{Name: "LVEF", Keywords: []string{"射血分数"}}
	m := defaultMatcher()
	line := "射血分数" + strings.Repeat("，", keywordWindow+5) + "45%"
	if _, ok := m.Match(r, line); ok {
		t.Error("expected no match: value lies beyond the keyword window")
	}
}

func TestMatchNothing(t *testing.T) {
	m := defaultMatcher()
	if _, ok := m.Match(DefaultRules[0], "患者一般情况可"); ok {
		t.Error("expected no match")
	}
}

func TestMatchInvalidRegexFallsBackToKeywords(t *testing.T) {
	r := Rule{Name: "LVEF", Keywords: []string{"射血分数"}, Regex: `([0-9]+%`}
	m := defaultMatcher()
	p, ok := m.Match(r, "射血分数 40%")
	if !ok {
		t.Fatal("expected keyword fallback to match despite broken regex")
	}
	if p.Value != "40%" {
		t.Errorf("expected value 40%%, got %q", p.Value)
	}
}

func TestMatchAllMultipleRules(t *testing.T) {
	m := defaultMatcher()
	params := m.MatchAll(DefaultRules, "LVEF: 45%，左室收缩功能降低")
	if len(params) != 2 {
		t.Fatalf("expected 2 parameters, got %d", len(params))
	}
	if params[0].Name != "LVEF" || params[0].Value != "45%" {
		t.Errorf("unexpected first parameter: %+v", params[0])
	}
	if params[1].Name != "左室收缩功能" || params[1].Value != "降低" {
		t.Errorf("unexpected second parameter: %+v", params[1])
	}
}

func TestMatchAllNoEarlyExit(t *testing.T) {
	m := defaultMatcher()
	params := m.MatchAll(DefaultRules, "左室收缩功能正常")
	if len(params) != 1 {
		t.Fatalf("expected 1 parameter, got %d", len(params))
	}
	if params[0].Name != "左室收缩功能" {
		t.Errorf("unexpected parameter: %+v", params[0])
	}
}

func TestRuleValid(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
		want bool
	}{
		{"regex only", Rule{Name: "A", Regex: `[0-9]+`}, true},
		{"keywords only", Rule{Name: "A", Keywords: []string{"kw"}}, true},
		{"neither", Rule{Name: "A"}, false},
		{"no name", Rule{Regex: `[0-9]+`}, false},
		{"broken regex no keywords", Rule{Name: "A", Regex: `([0-9]+`}, false},
		{"broken regex with keywords", Rule{Name: "A", Keywords: []string{"kw"}, Regex: `([0-9]+`}, true},
	}
	for _, tc := range cases {
		if got := tc.rule.Valid(); got != tc.want {
			t.Errorf("%s: Valid() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
