package models

// FileStatus describes what happened to a file in the pull request.
type FileStatus string

const (
	StatusAdded    FileStatus = "added"
	StatusModified FileStatus = "modified"
	StatusDeleted  FileStatus = "deleted"
	StatusRenamed  FileStatus = "renamed"
)

// ChangedFile represents a single file changed in a pull request.
// Path is unique within a review run.
type ChangedFile struct {
	Path    string
	OldPath string // Only set if Status is StatusRenamed
	Status  FileStatus
	Hunks   []Hunk
}

// Hunk represents a single chunk of changes in a unified diff.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []LineChange
}

// LineKind classifies a line within a hunk.
type LineKind string

const (
	LineAdded   LineKind = "added"
	LineRemoved LineKind = "removed"
	LineContext LineKind = "context"
)

// LineChange is one line of a hunk, numbered against both revisions.
// OldLine is 0 for added lines; NewLine is 0 for removed lines.
type LineChange struct {
	Kind    LineKind
	OldLine int
	NewLine int
	Content string
}

// CommentSeverity represents the severity level of a review suggestion.
type CommentSeverity string

const (
	SeverityInfo     CommentSeverity = "info"
	SeverityWarning  CommentSeverity = "warning"
	SeverityCritical CommentSeverity = "critical"
)

// Suggestion is a single piece of review feedback parsed from the model
// output. Line is 0 for general (unanchored) suggestions. Immutable once
// created by the requestor.
type Suggestion struct {
	FilePath    string
	Line        int
	Severity    CommentSeverity
	Category    string
	Body        string
	Replacement string // Optional code snippet to replace the flagged line
}

// PostedComment is an inline comment that already exists on the pull
// request. Owned by the hosting API; read-only to this system. BodyHash is
// the normalized SHA-256 of the comment body.
type PostedComment struct {
	FilePath string
	Line     int
	BodyHash string
}

// SkippedFile records a file excluded from the review and why.
type SkippedFile struct {
	Path   string
	Reason string
}

// Skip reasons attached to SkippedFile entries.
const (
	SkipBlacklisted  = "blacklisted"
	SkipNotWhitelist = "not-whitelisted"
	SkipUnparsable   = "unparsable-diff"
	SkipReviewFailed = "review-failed"
	SkipDeleted      = "deleted"
	SkipBinary       = "binary"
)

// ReviewSummary aggregates everything the summary comment reports. Built
// once per run, posted once, then discarded.
type ReviewSummary struct {
	ReviewedFiles        []string
	SkippedFiles         []SkippedFile
	SuggestionCount      int
	GeneralComments      []string
	ParseWarnings        []string
	TruncationNotes      []string
	DuplicatesSuppressed int
	FailedPosts          int
}

// RunState tracks a review run through its forward-progressing states.
type RunState string

const (
	StateStarted     RunState = "STARTED"
	StateDiffFetched RunState = "DIFF_FETCHED"
	StateFiltered    RunState = "FILTERED"
	StateReviewed    RunState = "REVIEWED"
	StateMapped      RunState = "MAPPED"
	StateDeduped     RunState = "DEDUPED"
	StatePublishing  RunState = "PUBLISHING"
	StateDone        RunState = "DONE"
	StateFailed      RunState = "FAILED"
)
