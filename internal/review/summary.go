package review

import (
	"fmt"
	"strings"

	"github.com/TurboKach/ai-reviewer/pkg/models"
)

// RenderSummary builds the markdown body of the run's summary comment.
func RenderSummary(summary *models.ReviewSummary) string {
	var b strings.Builder

	b.WriteString("## AI Review Summary\n\n")

	fmt.Fprintf(&b, "Reviewed **%d** file(s), left **%d** inline suggestion(s).\n\n",
		len(summary.ReviewedFiles), summary.SuggestionCount)

	if len(summary.ReviewedFiles) > 0 {
		b.WriteString("<details>\n<summary>Reviewed files</summary>\n\n")
		for _, path := range summary.ReviewedFiles {
			fmt.Fprintf(&b, "- `%s`\n", path)
		}
		b.WriteString("\n</details>\n\n")
	}

	if len(summary.SkippedFiles) > 0 {
		b.WriteString("### Skipped files\n\n")
		b.WriteString("| File | Reason |\n|------|--------|\n")
		for _, skipped := range summary.SkippedFiles {
			fmt.Fprintf(&b, "| `%s` | %s |\n", skipped.Path, skipped.Reason)
		}
		b.WriteString("\n")
	}

	if len(summary.GeneralComments) > 0 {
		b.WriteString("### General remarks\n\n")
		for _, comment := range summary.GeneralComments {
			fmt.Fprintf(&b, "- %s\n", comment)
		}
		b.WriteString("\n")
	}

	if len(summary.TruncationNotes) > 0 {
		b.WriteString("### Truncated files\n\n")
		for _, note := range summary.TruncationNotes {
			fmt.Fprintf(&b, "- %s\n", note)
		}
		b.WriteString("\n")
	}

	if len(summary.ParseWarnings) > 0 {
		fmt.Fprintf(&b, "### Warnings\n\n%d model response issue(s) were tolerated:\n\n", len(summary.ParseWarnings))
		for _, warning := range summary.ParseWarnings {
			fmt.Fprintf(&b, "- %s\n", warning)
		}
		b.WriteString("\n")
	}

	if summary.DuplicatesSuppressed > 0 {
		fmt.Fprintf(&b, "%d suggestion(s) were suppressed as duplicates of existing comments.\n\n", summary.DuplicatesSuppressed)
	}

	if summary.FailedPosts > 0 {
		fmt.Fprintf(&b, "⚠️ %d comment(s) could not be posted.\n\n", summary.FailedPosts)
	}

	b.WriteString("---\n_Generated by ai-reviewer_\n")

	return b.String()
}
