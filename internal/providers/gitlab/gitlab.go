package gitlab

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/TurboKach/ai-reviewer/internal/diffparse"
	"github.com/TurboKach/ai-reviewer/internal/providers"
	"github.com/TurboKach/ai-reviewer/pkg/models"
)

// Provider implements the hosting provider interface for GitLab merge
// requests through the official API client.
type Provider struct {
	client *gitlab.Client
	config Config
	logger zerolog.Logger
}

// Config contains configuration for the GitLab provider
type Config struct {
	URL   string `koanf:"url"`
	Token string `koanf:"token"`
}

// New creates a GitLab provider. URL may be empty for gitlab.com.
func New(config Config, logger zerolog.Logger) (*Provider, error) {
	p := &Provider{config: config, logger: logger}
	if config.Token != "" {
		if err := p.initClient(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Provider) initClient() error {
	var opts []gitlab.ClientOptionFunc
	if p.config.URL != "" {
		opts = append(opts, gitlab.WithBaseURL(fmt.Sprintf("%s/api/v4", p.config.URL)))
	}

	client, err := gitlab.NewClient(p.config.Token, opts...)
	if err != nil {
		return fmt.Errorf("failed to create GitLab client: %w", err)
	}
	p.client = client
	return nil
}

func (p *Provider) Name() string {
	return "gitlab"
}

func (p *Provider) Configure(config map[string]interface{}) error {
	if url, ok := config["url"].(string); ok && url != "" {
		p.config.URL = url
	}
	if token, ok := config["token"].(string); ok && token != "" {
		p.config.Token = token
	}
	if p.config.Token == "" {
		return fmt.Errorf("gitlab token missing in config")
	}
	return p.initClient()
}

// projectID builds the URL-encoded project path GitLab expects.
func projectID(ref providers.Ref) string {
	return fmt.Sprintf("%s/%s", ref.Owner, ref.Repo)
}

func (p *Provider) GetPullRequestDetails(ctx context.Context, ref providers.Ref) (*providers.PullRequest, error) {
	mr, _, err := p.client.MergeRequests.GetMergeRequest(projectID(ref), ref.Number, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, &providers.DiffFetchError{Provider: p.Name(), Ref: ref, Err: err}
	}

	pr := &providers.PullRequest{
		Title:        mr.Title,
		Description:  mr.Description,
		State:        mr.State,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		BaseSHA:      mr.DiffRefs.BaseSha,
		HeadSHA:      mr.DiffRefs.HeadSha,
		StartSHA:     mr.DiffRefs.StartSha,
		WebURL:       mr.WebURL,
	}
	if mr.Author != nil {
		pr.Author = mr.Author.Username
	}
	if pr.HeadSHA == "" {
		pr.HeadSHA = mr.SHA
	}
	return pr, nil
}

// GetChangedFiles pages through the MR diffs. Each file's patch is parsed
// individually so one broken patch does not abort the fetch.
func (p *Provider) GetChangedFiles(ctx context.Context, ref providers.Ref) (*diffparse.Result, error) {
	result := &diffparse.Result{}

	opts := &gitlab.ListMergeRequestDiffsOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}
	for {
		diffs, resp, err := p.client.MergeRequests.ListMergeRequestDiffs(projectID(ref), ref.Number, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, &providers.DiffFetchError{Provider: p.Name(), Ref: ref, Err: err}
		}

		for _, d := range diffs {
			file, err := diffparse.ParseFilePatch(d.NewPath, convertStatus(d), d.Diff)
			if err != nil {
				p.logger.Warn().Str("file", d.NewPath).Err(err).Msg("skipping unparsable patch")
				result.Unparsable = append(result.Unparsable, models.SkippedFile{
					Path:   d.NewPath,
					Reason: models.SkipUnparsable,
				})
				continue
			}
			if d.RenamedFile {
				file.OldPath = d.OldPath
			}
			result.Files = append(result.Files, file)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return result, nil
}

func convertStatus(d *gitlab.MergeRequestDiff) models.FileStatus {
	switch {
	case d.NewFile:
		return models.StatusAdded
	case d.DeletedFile:
		return models.StatusDeleted
	case d.RenamedFile:
		return models.StatusRenamed
	default:
		return models.StatusModified
	}
}

// ListPostedComments returns all non-system notes on the merge request.
func (p *Provider) ListPostedComments(ctx context.Context, ref providers.Ref) ([]providers.PostedComment, error) {
	var posted []providers.PostedComment

	opts := &gitlab.ListMergeRequestNotesOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}
	for {
		notes, resp, err := p.client.Notes.ListMergeRequestNotes(projectID(ref), ref.Number, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, &providers.DiffFetchError{Provider: p.Name(), Ref: ref, Err: err}
		}

		for _, note := range notes {
			if note.System {
				continue
			}
			comment := providers.PostedComment{Body: note.Body}
			if note.Position != nil {
				comment.Path = note.Position.NewPath
				comment.Line = note.Position.NewLine
			}
			posted = append(posted, comment)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return posted, nil
}

// PostInlineComment creates a discussion anchored to a post-image line.
func (p *Provider) PostInlineComment(ctx context.Context, ref providers.Ref, pr *providers.PullRequest, path string, line int, body string) error {
	opts := &gitlab.CreateMergeRequestDiscussionOptions{
		Body: gitlab.Ptr(body),
		Position: &gitlab.PositionOptions{
			PositionType: gitlab.Ptr("text"),
			BaseSHA:      gitlab.Ptr(pr.BaseSHA),
			StartSHA:     gitlab.Ptr(pr.StartSHA),
			HeadSHA:      gitlab.Ptr(pr.HeadSHA),
			NewPath:      gitlab.Ptr(path),
			NewLine:      gitlab.Ptr(line),
		},
	}

	_, _, err := p.client.Discussions.CreateMergeRequestDiscussion(projectID(ref), ref.Number, opts, gitlab.WithContext(ctx))
	if err != nil {
		return &providers.CommentPostError{Provider: p.Name(), Path: path, Line: line, Err: err}
	}
	return nil
}

func (p *Provider) PostSummaryComment(ctx context.Context, ref providers.Ref, body string) error {
	opts := &gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}

	_, _, err := p.client.Notes.CreateMergeRequestNote(projectID(ref), ref.Number, opts, gitlab.WithContext(ctx))
	if err != nil {
		return &providers.CommentPostError{Provider: p.Name(), Err: err}
	}
	return nil
}
