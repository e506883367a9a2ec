package mapper

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TurboKach/ai-reviewer/pkg/models"
)

// DefaultMaxDrift is how far a suggestion's line may be from an added line
// and still be snapped onto it. Model line references are occasionally off
// by one or two; beyond that the reference is considered unreliable.
const DefaultMaxDrift = 2

// Comment is a suggestion resolved against the diff. Line > 0 means the
// comment anchors to that post-image line; Line == 0 means it could not be
// anchored and goes into the general discussion instead.
type Comment struct {
	FilePath string
	Line     int
	Body     string
	Severity models.CommentSeverity
}

// Mapper resolves model suggestions to anchored comments.
type Mapper struct {
	MaxDrift int
	Logger   zerolog.Logger
}

func New(logger zerolog.Logger) *Mapper {
	return &Mapper{MaxDrift: DefaultMaxDrift, Logger: logger}
}

// Map anchors each suggestion to an added line in the diff. A suggestion
// whose line matches an added line exactly is kept as-is; one within
// MaxDrift of an added line is snapped to the nearest; anything else is
// demoted to a general comment. Suggestions are never dropped here.
func (m *Mapper) Map(suggestions []models.Suggestion, files []models.ChangedFile) []Comment {
	addedLines := indexAddedLines(files)

	comments := make([]Comment, 0, len(suggestions))
	for _, s := range suggestions {
		comment := Comment{
			FilePath: s.FilePath,
			Body:     renderBody(s),
			Severity: s.Severity,
		}

		switch {
		case s.Line == 0:
			// File-level remark, no anchor to resolve.

		case addedLines[s.FilePath][s.Line]:
			comment.Line = s.Line

		default:
			if snapped, ok := m.nearestAdded(addedLines[s.FilePath], s.Line); ok {
				m.Logger.Debug().
					Str("file", s.FilePath).
					Int("from", s.Line).
					Int("to", snapped).
					Msg("snapped suggestion to nearest added line")
				comment.Line = snapped
			} else {
				m.Logger.Debug().
					Str("file", s.FilePath).
					Int("line", s.Line).
					Msg("suggestion line not in diff, demoting to general comment")
				comment.Body = fmt.Sprintf("**%s** (line %d): %s", s.FilePath, s.Line, comment.Body)
			}
		}

		comments = append(comments, comment)
	}

	return comments
}

// nearestAdded finds the closest added line within MaxDrift of the given
// line. Ties go to the earlier line.
func (m *Mapper) nearestAdded(added map[int]bool, line int) (int, bool) {
	best, bestDist := 0, m.MaxDrift+1
	for candidate := range added {
		dist := candidate - line
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist || (dist == bestDist && candidate < best) {
			best, bestDist = candidate, dist
		}
	}
	if bestDist > m.MaxDrift {
		return 0, false
	}
	return best, true
}

func indexAddedLines(files []models.ChangedFile) map[string]map[int]bool {
	index := make(map[string]map[int]bool, len(files))
	for _, file := range files {
		lines := make(map[int]bool)
		for _, hunk := range file.Hunks {
			for _, line := range hunk.Lines {
				if line.Kind == models.LineAdded {
					lines[line.NewLine] = true
				}
			}
		}
		index[file.Path] = lines
	}
	return index
}

// renderBody builds the comment body posted to the hosting provider. The
// replacement, when present, is emitted as a suggestion block so the host
// renders it as an applicable patch.
func renderBody(s models.Suggestion) string {
	var b strings.Builder

	b.WriteString(severityBadge(s.Severity))
	if s.Category != "" {
		fmt.Fprintf(&b, " `%s`", s.Category)
	}
	b.WriteString(": ")
	b.WriteString(s.Body)

	if s.Replacement != "" {
		b.WriteString("\n\n```suggestion\n")
		b.WriteString(strings.TrimRight(s.Replacement, "\n"))
		b.WriteString("\n```")
	}

	return b.String()
}

func severityBadge(severity models.CommentSeverity) string {
	switch severity {
	case models.SeverityCritical:
		return "🔴 **Critical**"
	case models.SeverityWarning:
		return "🟡 **Warning**"
	default:
		return "🔵 **Info**"
	}
}
