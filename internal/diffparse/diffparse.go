// Package diffparse turns unified-diff text into per-file, per-line change
// records numbered against the new revision.
package diffparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/TurboKach/ai-reviewer/pkg/models"
)

// ParseError reports a malformed hunk header or patch structure for a
// single file. The file is excluded from later stages with a recorded
// skip-reason; it never aborts the run.
type ParseError struct {
	Path string
	Line string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed diff for %s: %q", e.Path, e.Line)
}

// Result is the outcome of parsing a full diff. Unparsable files are
// reported alongside the successfully parsed ones.
type Result struct {
	Files      []*models.ChangedFile
	Unparsable []models.SkippedFile
}

// hunkHeaderRe matches "@@ -oldStart[,oldCount] +newStart[,newCount] @@".
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse parses a raw unified diff covering one or more files.
func Parse(raw string) *Result {
	result := &Result{}

	for _, section := range splitFileSections(raw) {
		file, err := parseFileSection(section)
		if err != nil {
			var perr *ParseError
			path := "unknown"
			if pe, ok := err.(*ParseError); ok {
				perr = pe
				if perr.Path != "" {
					path = perr.Path
				}
			}
			result.Unparsable = append(result.Unparsable, models.SkippedFile{
				Path:   path,
				Reason: models.SkipUnparsable,
			})
			continue
		}
		if file != nil {
			result.Files = append(result.Files, file)
		}
	}

	return result
}

// ParseFilePatch parses a single file's patch, as returned by hosting APIs
// that serve per-file patches instead of one combined diff.
func ParseFilePatch(path string, status models.FileStatus, patch string) (*models.ChangedFile, error) {
	file := &models.ChangedFile{Path: path, Status: status}
	if strings.TrimSpace(patch) == "" {
		return file, nil
	}

	hunks, err := parseHunks(path, strings.Split(patch, "\n"))
	if err != nil {
		return nil, err
	}
	file.Hunks = hunks
	return file, nil
}

// splitFileSections splits a combined diff on "diff --git" boundaries.
// Input that starts directly with "--- " (a bare single-file patch) is
// treated as one section.
func splitFileSections(raw string) [][]string {
	lines := strings.Split(raw, "\n")
	var sections [][]string
	var current []string

	flush := func() {
		if len(current) > 0 {
			sections = append(sections, current)
			current = nil
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git ") {
			flush()
		}
		current = append(current, line)
	}
	flush()

	// Drop leading noise before the first file marker.
	var cleaned [][]string
	for _, section := range sections {
		if sectionHasContent(section) {
			cleaned = append(cleaned, section)
		}
	}
	return cleaned
}

func sectionHasContent(section []string) bool {
	for _, line := range section {
		if strings.HasPrefix(line, "diff --git ") ||
			strings.HasPrefix(line, "+++ ") ||
			strings.HasPrefix(line, "@@") {
			return true
		}
	}
	return false
}

func parseFileSection(lines []string) (*models.ChangedFile, error) {
	file := &models.ChangedFile{Status: models.StatusModified}

	hunkStart := -1
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			oldPath, newPath, ok := parseGitHeader(line)
			if !ok {
				return nil, &ParseError{Path: file.Path, Line: line}
			}
			file.Path = newPath
			if oldPath != newPath {
				file.OldPath = oldPath
			}
		case strings.HasPrefix(line, "new file mode"):
			file.Status = models.StatusAdded
		case strings.HasPrefix(line, "deleted file mode"):
			file.Status = models.StatusDeleted
		case strings.HasPrefix(line, "rename from "):
			file.Status = models.StatusRenamed
			file.OldPath = strings.TrimPrefix(line, "rename from ")
		case strings.HasPrefix(line, "rename to "):
			file.Path = strings.TrimPrefix(line, "rename to ")
		case strings.HasPrefix(line, "--- "):
			if file.Path == "" {
				if p := stripPathPrefix(strings.TrimPrefix(line, "--- ")); p != "" {
					file.Path = p
				}
			}
		case strings.HasPrefix(line, "+++ "):
			if p := stripPathPrefix(strings.TrimPrefix(line, "+++ ")); p != "" {
				file.Path = p
			}
		}
		if strings.HasPrefix(line, "@@") {
			hunkStart = i
			break
		}
	}

	if file.Path == "" && hunkStart == -1 {
		// Metadata-only section (e.g. pure mode change); nothing to review.
		return nil, nil
	}
	if file.Path == "" {
		return nil, &ParseError{Path: "", Line: lines[0]}
	}

	if hunkStart >= 0 {
		hunks, err := parseHunks(file.Path, lines[hunkStart:])
		if err != nil {
			return nil, err
		}
		file.Hunks = hunks
	}

	return file, nil
}

func parseHunks(path string, lines []string) ([]models.Hunk, error) {
	var hunks []models.Hunk
	var current *models.Hunk
	var oldLine, newLine int
	var oldLeft, newLeft int

	for _, line := range lines {
		if strings.HasPrefix(line, "@@") {
			matches := hunkHeaderRe.FindStringSubmatch(line)
			if matches == nil {
				return nil, &ParseError{Path: path, Line: line}
			}
			if current != nil {
				hunks = append(hunks, *current)
			}
			current = &models.Hunk{
				OldStart: atoiDefault(matches[1], 0),
				OldCount: atoiDefault(matches[2], 1),
				NewStart: atoiDefault(matches[3], 0),
				NewCount: atoiDefault(matches[4], 1),
			}
			oldLine = current.OldStart
			newLine = current.NewStart
			oldLeft = current.OldCount
			newLeft = current.NewCount
			continue
		}
		if current == nil {
			continue
		}
		if line == `\ No newline at end of file` {
			continue
		}
		if oldLeft == 0 && newLeft == 0 {
			// Hunk body fully consumed per the header counts; anything
			// further (trailing blank line artifacts) is ignored.
			continue
		}

		var change models.LineChange
		switch {
		case strings.HasPrefix(line, "+"):
			change = models.LineChange{
				Kind:    models.LineAdded,
				NewLine: newLine,
				Content: line[1:],
			}
			newLine++
			newLeft--
		case strings.HasPrefix(line, "-"):
			change = models.LineChange{
				Kind:    models.LineRemoved,
				OldLine: oldLine,
				Content: line[1:],
			}
			oldLine++
			oldLeft--
		case line == "" || strings.HasPrefix(line, " "):
			change = models.LineChange{
				Kind:    models.LineContext,
				OldLine: oldLine,
				NewLine: newLine,
				Content: strings.TrimPrefix(line, " "),
			}
			oldLine++
			newLine++
			oldLeft--
			newLeft--
		default:
			return nil, &ParseError{Path: path, Line: line}
		}
		current.Lines = append(current.Lines, change)
	}

	if current != nil {
		hunks = append(hunks, *current)
	}
	return hunks, nil
}

// parseGitHeader extracts old/new paths from "diff --git a/old b/new".
func parseGitHeader(line string) (string, string, bool) {
	rest := strings.TrimPrefix(line, "diff --git ")
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	oldPath := stripPathPrefix(parts[0])
	newPath := stripPathPrefix(parts[1])
	if newPath == "" {
		return "", "", false
	}
	return oldPath, newPath, true
}

func stripPathPrefix(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "a/")
	p = strings.TrimPrefix(p, "b/")
	if p == "/dev/null" {
		return ""
	}
	return p
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
