package llm

import "testing"

func TestExtractJSONArrayPlain(t *testing.T) {
	raw, ok := ExtractJSONArray(`[{"param_name":"LVEF","param_value":"45%"}]`)
	if !ok {
		t.Fatal("expected an array")
	}
	if raw != `[{"param_name":"LVEF","param_value":"45%"}]` {
		t.Errorf("unexpected array: %s", raw)
	}
}

func TestExtractJSONArrayInProse(t *testing.T) {
	text := "提取结果如下：\n[{\"param_name\":\"LVEF\",\"param_value\":\"45%\"}]\n希望对您有帮助。"
	raw, ok := ExtractJSONArray(text)
	if !ok {
		t.Fatal("expected an array")
	}
	if raw != `[{"param_name":"LVEF","param_value":"45%"}]` {
		t.Errorf("unexpected array: %s", raw)
	}
}

func TestExtractJSONArrayInCodeFence(t *testing.T) {
	text := "```json\n[{\"name\":\"LVEF\"}]\n```"
	raw, ok := ExtractJSONArray(text)
	if !ok {
		t.Fatal("expected an array")
	}
	if raw != `[{"name":"LVEF"}]` {
		t.Errorf("unexpected array: %s", raw)
	}
}

func TestExtractJSONArraySpansToLastBracket(t *testing.T) {
	text := `[{"keywords": ["a", "b"]}, {"keywords": ["c"]}]`
	raw, ok := ExtractJSONArray(text)
	if !ok {
		t.Fatal("expected an array")
	}
	if raw != text {
		t.Errorf("expected the full outer array, got %s", raw)
	}
}

func TestExtractJSONArrayAbsent(t *testing.T) {
	if _, ok := ExtractJSONArray("没有找到任何参数。"); ok {
		t.Error("expected no array")
	}
	if _, ok := ExtractJSONArray(""); ok {
		t.Error("expected no array for empty input")
	}
	if _, ok := ExtractJSONArray("]["); ok {
		t.Error("expected no array for reversed brackets")
	}
}
