// Package filter decides which changed files are eligible for review based
// on whitelist/blacklist glob policy. It is pure: no I/O, no ambient state.
package filter

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/TurboKach/ai-reviewer/pkg/models"
)

// Rules holds the ordered glob pattern sets. A blacklist match always
// overrides a whitelist match. An empty whitelist admits every path.
type Rules struct {
	Whitelist []string
	Blacklist []string
}

// ParseRules builds Rules from the comma-separated pattern strings supplied
// via PR_REVIEW_WHITELIST and PR_REVIEW_BLACKLIST.
func ParseRules(whitelist, blacklist string) Rules {
	return Rules{
		Whitelist: splitPatterns(whitelist),
		Blacklist: splitPatterns(blacklist),
	}
}

func splitPatterns(s string) []string {
	var patterns []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// IsIncluded reports whether path is eligible for review. Matching is
// case-sensitive; `*` matches within a path segment and `**` across
// segments.
func (r Rules) IsIncluded(path string) bool {
	included, _ := r.Evaluate(path)
	return included
}

// Evaluate reports eligibility along with the skip reason when excluded.
func (r Rules) Evaluate(path string) (bool, string) {
	path = normalize(path)

	for _, pattern := range r.Blacklist {
		if matches(pattern, path) {
			return false, models.SkipBlacklisted
		}
	}

	if len(r.Whitelist) == 0 {
		return true, ""
	}

	for _, pattern := range r.Whitelist {
		if matches(pattern, path) {
			return true, ""
		}
	}
	return false, models.SkipNotWhitelist
}

func matches(pattern, path string) bool {
	ok, err := doublestar.Match(normalize(pattern), path)
	if err != nil {
		// Malformed pattern: treat as non-matching rather than failing
		// the run.
		return false
	}
	if ok {
		return true
	}

	// A bare extension pattern like "*.py" is conventionally meant to match
	// at any depth, not only at the repository root.
	if !strings.Contains(pattern, "/") {
		ok, err := doublestar.Match(pattern, baseName(path))
		return err == nil && ok
	}
	return false
}

func normalize(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.TrimPrefix(path, "./")
}

func baseName(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
