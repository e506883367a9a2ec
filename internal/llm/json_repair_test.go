package llm

import (
	"encoding/json"
	"testing"
)

func TestRepairJSON_ValidJSON(t *testing.T) {
	validJSON := `{"suggestions": [{"filePath": "test.go", "line": 10, "body": "Good code"}]}`

	repaired, stats, err := RepairJSON(validJSON)

	if err != nil {
		t.Errorf("Expected no error for valid JSON, got: %v", err)
	}
	if stats.WasRepaired {
		t.Error("Expected WasRepaired to be false for valid JSON")
	}
	if repaired != validJSON {
		t.Error("Expected repaired JSON to be identical to original for valid JSON")
	}
	if stats.OriginalBytes != len(validJSON) || stats.RepairedBytes != len(validJSON) {
		t.Error("Expected byte counts to match original")
	}
}

func TestRepairJSON_TrailingCommas(t *testing.T) {
	malformed := `{"suggestions": [{"filePath": "test.go", "line": 10,}]}`

	repaired, stats, err := RepairJSON(malformed)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if !stats.WasRepaired {
		t.Error("Expected WasRepaired to be true")
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		t.Errorf("Repaired JSON is still invalid: %v", err)
	}
}

func TestRepairJSON_TruncatedStructure(t *testing.T) {
	truncated := `{"suggestions": [{"filePath": "a.go", "line": 3, "body": "fix"`

	repaired, stats, err := RepairJSON(truncated)

	if err != nil {
		t.Errorf("Expected truncated JSON to be completed, got: %v", err)
	}
	if !stats.WasRepaired {
		t.Error("Expected WasRepaired to be true")
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		t.Errorf("Completed JSON is still invalid: %v", err)
	}
}

func TestRepairJSON_SingleQuotesAndBareKeys(t *testing.T) {
	malformed := `{suggestions: [{filePath: 'a.go', line: 3, body: 'use errors.Is'}]}`

	repaired, _, err := RepairJSON(malformed)

	if err != nil {
		t.Errorf("Expected repair to succeed, got: %v", err)
	}
	var obj struct {
		Suggestions []struct {
			FilePath string `json:"filePath"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		t.Fatalf("Repaired JSON is still invalid: %v", err)
	}
	if len(obj.Suggestions) != 1 || obj.Suggestions[0].FilePath != "a.go" {
		t.Errorf("Unexpected repaired content: %s", repaired)
	}
}

func TestRepairJSON_CommentsRemoved(t *testing.T) {
	malformed := `{
  "suggestions": [] // none found
}`

	repaired, _, err := RepairJSON(malformed)

	if err != nil {
		t.Errorf("Expected repair to succeed, got: %v", err)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		t.Errorf("Repaired JSON is still invalid: %v", err)
	}
}

func TestRepairJSON_Hopeless(t *testing.T) {
	_, _, err := RepairJSON(`this is not even close to JSON }{][`)

	if err == nil {
		t.Error("Expected an error for unrepairable input")
	}
}

func TestExtractJSON_PureJSON(t *testing.T) {
	input := `{"suggestions": []}`
	if got := ExtractJSON(input); got != input {
		t.Errorf("Expected pure JSON returned as-is, got: %q", got)
	}
}

func TestExtractJSON_FencedBlock(t *testing.T) {
	input := "Here is my review:\n```json\n{\"suggestions\": []}\n```\nHope it helps!"

	got := ExtractJSON(input)
	if got != `{"suggestions": []}` {
		t.Errorf("Expected fenced JSON extracted, got: %q", got)
	}
}

func TestExtractJSON_EmbeddedInProse(t *testing.T) {
	input := `The result is {"suggestions": [{"line": 1}]} as requested.`

	got := ExtractJSON(input)
	if got != `{"suggestions": [{"line": 1}]}` {
		t.Errorf("Expected balanced object extracted, got: %q", got)
	}
}

func TestExtractJSON_TruncatedTailReturned(t *testing.T) {
	input := `Sure: {"suggestions": [{"line": 1}`

	got := ExtractJSON(input)
	if got != `{"suggestions": [{"line": 1}` {
		t.Errorf("Expected truncated tail returned for repair, got: %q", got)
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	if got := ExtractJSON("no structured data here"); got != "" {
		t.Errorf("Expected empty result, got: %q", got)
	}
}

func TestDecode_EndToEnd(t *testing.T) {
	response := "Review complete.\n```json\n{\"fileSummary\": \"ok\", \"suggestions\": [{\"filePath\": \"a.go\", \"line\": 7, \"body\": \"check err\",}]}\n```"

	var target struct {
		FileSummary string `json:"fileSummary"`
		Suggestions []struct {
			FilePath string `json:"filePath"`
			Line     int    `json:"line"`
			Body     string `json:"body"`
		} `json:"suggestions"`
	}
	stats, err := Decode(response, &target)

	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !stats.WasRepaired {
		t.Error("Expected the trailing comma to require repair")
	}
	if len(target.Suggestions) != 1 || target.Suggestions[0].Line != 7 {
		t.Errorf("Unexpected decode result: %+v", target)
	}
}
