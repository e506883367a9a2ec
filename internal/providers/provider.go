package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/TurboKach/ai-reviewer/internal/diffparse"
)

// Ref identifies one pull request on a hosting provider.
type Ref struct {
	Owner  string
	Repo   string
	Number int
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// PullRequest holds the metadata needed to review and comment on a PR.
type PullRequest struct {
	Title        string
	Description  string
	Author       string
	State        string
	SourceBranch string
	TargetBranch string
	BaseSHA      string
	HeadSHA      string
	StartSHA     string // GitLab position anchoring; empty elsewhere
	WebURL       string
}

// PostedComment is an existing comment on the pull request, fetched for
// deduplication. Line is 0 for comments not anchored to a line.
type PostedComment struct {
	Path string
	Line int
	Body string
}

// Provider is a code hosting service that can serve pull request diffs and
// accept review comments.
type Provider interface {
	Name() string

	// Configure sets up the provider with needed configuration
	Configure(config map[string]interface{}) error

	// GetPullRequestDetails fetches PR metadata, including the head SHA
	// inline comments must be anchored to.
	GetPullRequestDetails(ctx context.Context, ref Ref) (*PullRequest, error)

	// GetChangedFiles fetches and parses the PR diff. Files whose patch
	// cannot be parsed are reported in the result, not as an error.
	GetChangedFiles(ctx context.Context, ref Ref) (*diffparse.Result, error)

	// ListPostedComments returns every comment already on the PR.
	ListPostedComments(ctx context.Context, ref Ref) ([]PostedComment, error)

	// PostInlineComment anchors a comment to a post-image line.
	PostInlineComment(ctx context.Context, ref Ref, pr *PullRequest, path string, line int, body string) error

	// PostSummaryComment posts an unanchored comment on the PR.
	PostSummaryComment(ctx context.Context, ref Ref, body string) error
}

// DiffFetchError means the PR diff or metadata could not be retrieved.
type DiffFetchError struct {
	Provider string
	Ref      Ref
	Err      error
}

func (e *DiffFetchError) Error() string {
	return fmt.Sprintf("%s: failed to fetch %s: %v", e.Provider, e.Ref, e.Err)
}

func (e *DiffFetchError) Unwrap() error { return e.Err }

// CommentPostError means a single comment could not be posted. The run
// continues; the failure is counted in the summary.
type CommentPostError struct {
	Provider string
	Path     string
	Line     int
	Err      error
}

func (e *CommentPostError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: failed to post comment: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: failed to post comment on %s:%d: %v", e.Provider, e.Path, e.Line, e.Err)
}

func (e *CommentPostError) Unwrap() error { return e.Err }

// ParsePullRequestURL recognizes GitHub and GitLab PR URLs and returns the
// provider name and ref.
func ParsePullRequestURL(raw string) (string, Ref, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", Ref{}, fmt.Errorf("invalid pull request URL: %w", err)
	}

	path := strings.Trim(parsed.Path, "/")
	parts := strings.Split(path, "/")

	switch {
	case parsed.Host == "github.com":
		// github.com/owner/repo/pull/123
		if len(parts) >= 4 && parts[2] == "pull" {
			number, err := strconv.Atoi(parts[3])
			if err != nil {
				return "", Ref{}, fmt.Errorf("invalid pull request number in URL: %s", raw)
			}
			return "github", Ref{Owner: parts[0], Repo: parts[1], Number: number}, nil
		}

	case strings.Contains(path, "/-/merge_requests/"):
		// gitlab host: group[/subgroup]/project/-/merge_requests/123
		idx := strings.Index(path, "/-/merge_requests/")
		project := path[:idx]
		number, err := strconv.Atoi(strings.SplitN(path[idx+len("/-/merge_requests/"):], "/", 2)[0])
		if err != nil {
			return "", Ref{}, fmt.Errorf("invalid merge request number in URL: %s", raw)
		}
		slash := strings.LastIndex(project, "/")
		if slash < 0 {
			return "", Ref{}, fmt.Errorf("invalid merge request URL: %s", raw)
		}
		return "gitlab", Ref{Owner: project[:slash], Repo: project[slash+1:], Number: number}, nil
	}

	return "", Ref{}, fmt.Errorf("unrecognized pull request URL: %s", raw)
}

// Factory creates hosting providers by name.
type Factory interface {
	Create(name string, config map[string]interface{}) (Provider, error)
}

// StandardFactory is the registry-backed Factory implementation.
type StandardFactory struct {
	providers map[string]Provider
}

func NewStandardFactory() *StandardFactory {
	return &StandardFactory{providers: make(map[string]Provider)}
}

func (f *StandardFactory) Register(name string, provider Provider) {
	f.providers[name] = provider
}

func (f *StandardFactory) Create(name string, config map[string]interface{}) (Provider, error) {
	provider, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("hosting provider not found: %s", name)
	}
	if err := provider.Configure(config); err != nil {
		return nil, err
	}
	return provider, nil
}
