// Package llm handles the untrusted side of model output: locating JSON in
// free-form responses and repairing the malformed JSON models routinely
// produce. Nothing here may panic or abort a run; the worst outcome is an
// error the caller converts into a parse-warning.
package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// RepairStats tracks what a repair pass did to the payload.
type RepairStats struct {
	OriginalBytes    int           `json:"original_bytes"`
	RepairedBytes    int           `json:"repaired_bytes"`
	ErrorsFixed      int           `json:"errors_fixed"`
	RepairTime       time.Duration `json:"repair_time"`
	RepairStrategies []string      `json:"repair_strategies"`
	WasRepaired      bool          `json:"was_repaired"`
}

// RepairJSON attempts to repair malformed JSON using multiple strategies in
// order: trailing commas, unescaped quotes, incomplete structures,
// JavaScript comments, unquoted keys, single quotes, and finally the
// jsonrepair library as a fallback.
func RepairJSON(raw string) (repaired string, stats RepairStats, err error) {
	startTime := time.Now()
	stats.OriginalBytes = len(raw)

	var testObj interface{}
	if json.Unmarshal([]byte(raw), &testObj) == nil {
		stats.RepairedBytes = len(raw)
		stats.RepairTime = time.Since(startTime)
		return raw, stats, nil
	}

	stats.WasRepaired = true
	repaired = raw

	apply := func(name string, pred func(string) bool, fix func(string) string) {
		if !pred(repaired) {
			return
		}
		original := repaired
		repaired = fix(repaired)
		if repaired != original {
			stats.RepairStrategies = append(stats.RepairStrategies, name)
			stats.ErrorsFixed++
		}
	}

	apply("trailing_commas", hasTrailingCommas, removeTrailingCommas)
	apply("unescaped_quotes", hasUnescapedQuotes, fixUnescapedQuotes)
	apply("completion", needsCompletion, completeJSON)
	apply("comments_removed", containsComments, removeComments)
	apply("key_quotes", hasMissingKeyQuotes, addKeyQuotes)
	apply("single_quotes", hasSingleQuotes, fixSingleQuotes)

	// Library fallback for anything the targeted strategies missed
	if json.Unmarshal([]byte(repaired), &testObj) != nil {
		if libRepaired, libErr := jsonrepair.JSONRepair(repaired); libErr == nil && libRepaired != repaired {
			repaired = libRepaired
			stats.RepairStrategies = append(stats.RepairStrategies, "jsonrepair_library")
			stats.ErrorsFixed++
		}
	}

	stats.RepairedBytes = len(repaired)
	stats.RepairTime = time.Since(startTime)

	if json.Unmarshal([]byte(repaired), &testObj) != nil {
		return repaired, stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.RepairStrategies))
	}

	return repaired, stats, nil
}

func hasTrailingCommas(s string) bool {
	return trailingCommaBraceRe.MatchString(s) || trailingCommaBracketRe.MatchString(s)
}

var (
	trailingCommaBraceRe   = regexp.MustCompile(`,\s*}`)
	trailingCommaBracketRe = regexp.MustCompile(`,\s*]`)
)

func removeTrailingCommas(s string) string {
	s = trailingCommaBraceRe.ReplaceAllString(s, "}")
	return trailingCommaBracketRe.ReplaceAllString(s, "]")
}

// hasUnescapedQuotes checks for patterns like "text with "quotes" inside"
func hasUnescapedQuotes(s string) bool {
	re := regexp.MustCompile(`"[^"]*"[^"]*"[^"]*"`)
	return re.MatchString(s)
}

// fixUnescapedQuotes escapes nested quotes in suggestion body values, the
// most common place models embed quoted snippets.
func fixUnescapedQuotes(s string) string {
	re := regexp.MustCompile(`("body":\s*")([^"]*)"([^"]*)"([^"]*)("[\s,}])`)
	return re.ReplaceAllString(s, `$1$2\"$3\"$4$5`)
}

func needsCompletion(s string) bool {
	s = strings.TrimSpace(s)
	openBraces := strings.Count(s, "{") - strings.Count(s, "}")
	openBrackets := strings.Count(s, "[") - strings.Count(s, "]")
	return openBraces > 0 || openBrackets > 0
}

// completeJSON adds missing closing braces/brackets in the correct order
func completeJSON(s string) string {
	s = strings.TrimSpace(s)

	var stack []rune
	for _, char := range s {
		switch char {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '}' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == ']' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

func containsComments(s string) bool {
	return strings.Contains(s, "//") || strings.Contains(s, "/*")
}

func removeComments(s string) string {
	lines := strings.Split(s, "\n")
	var cleanLines []string
	for _, line := range lines {
		if idx := strings.Index(line, "//"); idx != -1 {
			line = line[:idx]
		}
		cleanLines = append(cleanLines, line)
	}
	s = strings.Join(cleanLines, "\n")

	re := regexp.MustCompile(`/\*.*?\*/`)
	return re.ReplaceAllString(s, "")
}

func hasMissingKeyQuotes(s string) bool {
	re := regexp.MustCompile(`[{,]\s*[a-zA-Z_][a-zA-Z0-9_]*\s*:`)
	return re.MatchString(s)
}

func addKeyQuotes(s string) string {
	re := regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*:)`)
	return re.ReplaceAllString(s, `$1"$2"$3`)
}

func hasSingleQuotes(s string) bool {
	re := regexp.MustCompile(`'[^']*'`)
	return re.MatchString(s)
}

func fixSingleQuotes(s string) string {
	re := regexp.MustCompile(`'([^']*)'`)
	return re.ReplaceAllString(s, `"$1"`)
}
