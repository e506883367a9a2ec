package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decode extracts the JSON payload from a raw model response, repairs it if
// necessary, and unmarshals it into target.
func Decode(raw string, target interface{}) (RepairStats, error) {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return RepairStats{}, fmt.Errorf("no JSON found in model response (%d bytes)", len(raw))
	}

	repaired, stats, err := RepairJSON(jsonStr)
	if err != nil {
		return stats, err
	}

	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return stats, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	return stats, nil
}

// ExtractJSON extracts JSON content from mixed text/JSON responses. Models
// frequently wrap their payload in markdown fences or prose.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	// Prefer fenced code blocks when present
	if strings.Contains(raw, "```") {
		lines := strings.Split(raw, "\n")
		var jsonLines []string
		inCodeBlock := false

		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inCodeBlock = !inCodeBlock
				continue
			}
			if inCodeBlock {
				jsonLines = append(jsonLines, line)
			}
		}

		if len(jsonLines) > 0 {
			return strings.TrimSpace(strings.Join(jsonLines, "\n"))
		}
	}

	// Fall back to the first balanced {…} or […] structure
	startIdx := strings.IndexAny(raw, "{[")
	if startIdx == -1 {
		return ""
	}

	openChar := raw[startIdx]
	closeChar := byte('}')
	if openChar == '[' {
		closeChar = ']'
	}

	count := 0
	for i := startIdx; i < len(raw); i++ {
		switch raw[i] {
		case openChar:
			count++
		case closeChar:
			count--
			if count == 0 {
				return raw[startIdx : i+1]
			}
		}
	}

	// Truncated output: return what we have and let repair close it
	return raw[startIdx:]
}
