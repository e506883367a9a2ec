package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/TurboKach/ai-reviewer/internal/diffparse"
	"github.com/TurboKach/ai-reviewer/internal/providers"
	"github.com/TurboKach/ai-reviewer/pkg/models"
)

const defaultBaseURL = "https://api.github.com"

// Provider talks to the GitHub REST API. Requests go through a client-side
// rate limiter to stay under secondary rate limits.
type Provider struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func New(token string, logger zerolog.Logger) *Provider {
	return &Provider{
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(1*time.Second), 5),
		logger:     logger,
	}
}

func (p *Provider) Name() string {
	return "github"
}

func (p *Provider) Configure(config map[string]interface{}) error {
	if token, ok := config["token"].(string); ok && token != "" {
		p.token = token
	}
	if baseURL, ok := config["url"].(string); ok && baseURL != "" {
		p.baseURL = baseURL
	}
	if p.token == "" {
		return fmt.Errorf("github token missing in config")
	}
	return nil
}

// do sends one API request with auth headers, honoring the rate limiter.
func (p *Provider) do(ctx context.Context, method, url string, payload interface{}) (*http.Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return p.httpClient.Do(req)
}

// get issues a GET and decodes the JSON response into target.
func (p *Provider) get(ctx context.Context, url string, target interface{}) error {
	resp, err := p.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("github API returned %s: %s", resp.Status, bytes.TrimSpace(body))
}

func (p *Provider) GetPullRequestDetails(ctx context.Context, ref providers.Ref) (*providers.PullRequest, error) {
	var pr struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		State string `json:"state"`
		User  struct {
			Login string `json:"login"`
		} `json:"user"`
		Head struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"base"`
		HTMLURL string `json:"html_url"`
	}

	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", p.baseURL, ref.Owner, ref.Repo, ref.Number)
	if err := p.get(ctx, url, &pr); err != nil {
		return nil, &providers.DiffFetchError{Provider: p.Name(), Ref: ref, Err: err}
	}

	return &providers.PullRequest{
		Title:        pr.Title,
		Description:  pr.Body,
		Author:       pr.User.Login,
		State:        pr.State,
		SourceBranch: pr.Head.Ref,
		TargetBranch: pr.Base.Ref,
		BaseSHA:      pr.Base.SHA,
		HeadSHA:      pr.Head.SHA,
		WebURL:       pr.HTMLURL,
	}, nil
}

// GetChangedFiles pages through the PR file list, parsing each file's patch.
// A file whose patch cannot be parsed goes into the result's Unparsable list.
func (p *Provider) GetChangedFiles(ctx context.Context, ref providers.Ref) (*diffparse.Result, error) {
	result := &diffparse.Result{}

	for page := 1; ; page++ {
		var files []struct {
			Filename         string `json:"filename"`
			PreviousFilename string `json:"previous_filename"`
			Status           string `json:"status"`
			Patch            string `json:"patch"`
		}

		url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/files?per_page=100&page=%d",
			p.baseURL, ref.Owner, ref.Repo, ref.Number, page)
		if err := p.get(ctx, url, &files); err != nil {
			return nil, &providers.DiffFetchError{Provider: p.Name(), Ref: ref, Err: err}
		}
		if len(files) == 0 {
			break
		}

		for _, f := range files {
			file, err := diffparse.ParseFilePatch(f.Filename, convertStatus(f.Status), f.Patch)
			if err != nil {
				p.logger.Warn().Str("file", f.Filename).Err(err).Msg("skipping unparsable patch")
				result.Unparsable = append(result.Unparsable, models.SkippedFile{
					Path:   f.Filename,
					Reason: models.SkipUnparsable,
				})
				continue
			}
			if f.PreviousFilename != "" {
				file.OldPath = f.PreviousFilename
			}
			result.Files = append(result.Files, file)
		}

		if len(files) < 100 {
			break
		}
	}

	return result, nil
}

func convertStatus(status string) models.FileStatus {
	switch status {
	case "added":
		return models.StatusAdded
	case "removed":
		return models.StatusDeleted
	case "renamed":
		return models.StatusRenamed
	default:
		return models.StatusModified
	}
}

// ListPostedComments fetches both review comments (line-anchored) and issue
// comments (general discussion) so deduplication sees everything.
func (p *Provider) ListPostedComments(ctx context.Context, ref providers.Ref) ([]providers.PostedComment, error) {
	var posted []providers.PostedComment

	for page := 1; ; page++ {
		var comments []struct {
			Path string `json:"path"`
			Line int    `json:"line"`
			Body string `json:"body"`
		}
		url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/comments?per_page=100&page=%d",
			p.baseURL, ref.Owner, ref.Repo, ref.Number, page)
		if err := p.get(ctx, url, &comments); err != nil {
			return nil, &providers.DiffFetchError{Provider: p.Name(), Ref: ref, Err: err}
		}
		if len(comments) == 0 {
			break
		}
		for _, c := range comments {
			posted = append(posted, providers.PostedComment{Path: c.Path, Line: c.Line, Body: c.Body})
		}
		if len(comments) < 100 {
			break
		}
	}

	for page := 1; ; page++ {
		var comments []struct {
			Body string `json:"body"`
		}
		url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments?per_page=100&page=%d",
			p.baseURL, ref.Owner, ref.Repo, ref.Number, page)
		if err := p.get(ctx, url, &comments); err != nil {
			return nil, &providers.DiffFetchError{Provider: p.Name(), Ref: ref, Err: err}
		}
		if len(comments) == 0 {
			break
		}
		for _, c := range comments {
			posted = append(posted, providers.PostedComment{Body: c.Body})
		}
		if len(comments) < 100 {
			break
		}
	}

	return posted, nil
}

// PostInlineComment anchors a comment to a line on the head commit's side of
// the diff.
func (p *Provider) PostInlineComment(ctx context.Context, ref providers.Ref, pr *providers.PullRequest, path string, line int, body string) error {
	payload := map[string]interface{}{
		"body":      body,
		"commit_id": pr.HeadSHA,
		"path":      path,
		"line":      line,
		"side":      "RIGHT",
	}

	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/comments", p.baseURL, ref.Owner, ref.Repo, ref.Number)
	resp, err := p.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return &providers.CommentPostError{Provider: p.Name(), Path: path, Line: line, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return &providers.CommentPostError{Provider: p.Name(), Path: path, Line: line, Err: statusError(resp)}
	}
	return nil
}

func (p *Provider) PostSummaryComment(ctx context.Context, ref providers.Ref, body string) error {
	payload := map[string]string{"body": body}

	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", p.baseURL, ref.Owner, ref.Repo, ref.Number)
	resp, err := p.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return &providers.CommentPostError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return &providers.CommentPostError{Provider: p.Name(), Err: statusError(resp)}
	}
	return nil
}
