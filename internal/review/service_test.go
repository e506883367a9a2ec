package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TurboKach/ai-reviewer/internal/ai"
	"github.com/TurboKach/ai-reviewer/internal/config"
	"github.com/TurboKach/ai-reviewer/internal/diffparse"
	"github.com/TurboKach/ai-reviewer/internal/providers"
	"github.com/TurboKach/ai-reviewer/pkg/models"
)

// fakeHost is an in-memory hosting provider capturing everything posted.
type fakeHost struct {
	mu sync.Mutex

	diff      *diffparse.Result
	posted    []providers.PostedComment
	detailErr error
	diffErr   error
	inlineErr error

	inlinePosts  []postedInline
	summaryBody  string
	summaryOrder int
	postSeq      int
}

type postedInline struct {
	path string
	line int
	body string
	seq  int
}

func (f *fakeHost) Name() string                                  { return "github" }
func (f *fakeHost) Configure(config map[string]interface{}) error { return nil }

func (f *fakeHost) GetPullRequestDetails(ctx context.Context, ref providers.Ref) (*providers.PullRequest, error) {
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	return &providers.PullRequest{Title: "test PR", HeadSHA: "abc123"}, nil
}

func (f *fakeHost) GetChangedFiles(ctx context.Context, ref providers.Ref) (*diffparse.Result, error) {
	if f.diffErr != nil {
		return nil, f.diffErr
	}
	return f.diff, nil
}

func (f *fakeHost) ListPostedComments(ctx context.Context, ref providers.Ref) ([]providers.PostedComment, error) {
	return f.posted, nil
}

func (f *fakeHost) PostInlineComment(ctx context.Context, ref providers.Ref, pr *providers.PullRequest, path string, line int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postSeq++
	if f.inlineErr != nil {
		return f.inlineErr
	}
	f.inlinePosts = append(f.inlinePosts, postedInline{path: path, line: line, body: body, seq: f.postSeq})
	return nil
}

func (f *fakeHost) PostSummaryComment(ctx context.Context, ref providers.Ref, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postSeq++
	f.summaryBody = body
	f.summaryOrder = f.postSeq
	return nil
}

// fakeModel is an AI provider returning canned suggestions.
type fakeModel struct {
	review *ai.BatchReview
	err    error
	calls  int
	mu     sync.Mutex
}

func (f *fakeModel) Name() string                                  { return "fake" }
func (f *fakeModel) MaxTokensPerBatch() int                        { return 10000 }
func (f *fakeModel) Configure(config map[string]interface{}) error { return nil }

func (f *fakeModel) ReviewBatch(ctx context.Context, files []models.ChangedFile) (*ai.BatchReview, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.review, nil
}

type hostFactory struct{ host *fakeHost }

func (h hostFactory) Create(name string, config map[string]interface{}) (providers.Provider, error) {
	return h.host, nil
}

type modelFactory struct{ model *fakeModel }

func (m modelFactory) Create(name string, config map[string]interface{}) (ai.Provider, error) {
	return m.model, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.General.Provider = "github"
	cfg.General.AI = "openai"
	cfg.Batch.MaxBatchTokens = 10000
	cfg.Batch.MaxWorkers = 2
	cfg.Retry.MaxRetries = 1
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.Review.Timeout = time.Minute
	cfg.Review.CallTimeout = 10 * time.Second
	return cfg
}

func pyFile(path string, addedLine int) *models.ChangedFile {
	return &models.ChangedFile{
		Path:   path,
		Status: models.StatusModified,
		Hunks: []models.Hunk{{
			OldStart: addedLine, OldCount: 1, NewStart: addedLine, NewCount: 2,
			Lines: []models.LineChange{
				{Kind: models.LineContext, OldLine: addedLine, NewLine: addedLine, Content: "def f():"},
				{Kind: models.LineAdded, NewLine: addedLine + 1, Content: "    pass"},
			},
		}},
	}
}

const prURL = "https://github.com/acme/widgets/pull/5"

func TestRun_FilterAndPublish(t *testing.T) {
	host := &fakeHost{diff: &diffparse.Result{
		Files: []*models.ChangedFile{
			pyFile("src/app.py", 10),
			pyFile("tests/test_app.py", 10),
		},
	}}
	model := &fakeModel{review: &ai.BatchReview{
		Suggestions: []models.Suggestion{
			{FilePath: "src/app.py", Line: 11, Severity: models.SeverityWarning, Body: "consider a docstring"},
		},
	}}

	cfg := testConfig()
	cfg.Filter.Whitelist = "*.py"
	cfg.Filter.Blacklist = "tests/*"

	service := NewService(hostFactory{host}, modelFactory{model}, cfg)
	result := service.Run(context.Background(), prURL)

	require.Equal(t, models.StateDone, result.State)
	require.NoError(t, result.Err)

	summary := result.Summary
	assert.Equal(t, []string{"src/app.py"}, summary.ReviewedFiles)
	require.Len(t, summary.SkippedFiles, 1)
	assert.Equal(t, "tests/test_app.py", summary.SkippedFiles[0].Path)
	assert.Equal(t, models.SkipBlacklisted, summary.SkippedFiles[0].Reason)

	require.Len(t, host.inlinePosts, 1)
	assert.Equal(t, "src/app.py", host.inlinePosts[0].path)
	assert.Equal(t, 11, host.inlinePosts[0].line)

	// The summary is always the last thing posted.
	assert.NotEmpty(t, host.summaryBody)
	assert.Greater(t, host.summaryOrder, host.inlinePosts[0].seq)
	assert.Contains(t, host.summaryBody, "tests/test_app.py")
	assert.Contains(t, host.summaryBody, models.SkipBlacklisted)
}

func TestRun_ParseWarningsDoNotFailRun(t *testing.T) {
	host := &fakeHost{diff: &diffparse.Result{Files: []*models.ChangedFile{pyFile("a.py", 1)}}}
	model := &fakeModel{review: &ai.BatchReview{
		Warnings: []string{"dropped malformed suggestion 2: unexpected token"},
	}}

	service := NewService(hostFactory{host}, modelFactory{model}, testConfig())
	result := service.Run(context.Background(), prURL)

	require.Equal(t, models.StateDone, result.State)
	assert.Equal(t, []string{"dropped malformed suggestion 2: unexpected token"}, result.Summary.ParseWarnings)
	assert.Contains(t, host.summaryBody, "dropped malformed suggestion")
}

func TestRun_ModelFailureSkipsFilesButFinishes(t *testing.T) {
	host := &fakeHost{diff: &diffparse.Result{Files: []*models.ChangedFile{pyFile("a.py", 1)}}}
	model := &fakeModel{err: &ai.APIError{Provider: "fake", Err: errors.New("invalid api key")}}

	service := NewService(hostFactory{host}, modelFactory{model}, testConfig())
	result := service.Run(context.Background(), prURL)

	require.Equal(t, models.StateDone, result.State)
	require.Len(t, result.Summary.SkippedFiles, 1)
	assert.Equal(t, models.SkipReviewFailed, result.Summary.SkippedFiles[0].Reason)
	assert.Empty(t, result.Summary.ReviewedFiles)
	assert.NotEmpty(t, host.summaryBody)
}

func TestRun_InlinePostFailuresCountedNotFatal(t *testing.T) {
	host := &fakeHost{
		diff:      &diffparse.Result{Files: []*models.ChangedFile{pyFile("a.py", 1)}},
		inlineErr: &providers.CommentPostError{Provider: "github", Path: "a.py", Line: 2, Err: errors.New("422")},
	}
	model := &fakeModel{review: &ai.BatchReview{
		Suggestions: []models.Suggestion{{FilePath: "a.py", Line: 2, Body: "tighten this up"}},
	}}

	service := NewService(hostFactory{host}, modelFactory{model}, testConfig())
	result := service.Run(context.Background(), prURL)

	require.Equal(t, models.StateDone, result.State)
	assert.Equal(t, 1, result.Summary.FailedPosts)
	assert.NotEmpty(t, host.summaryBody)
}

func TestRun_DiffFetchFailureIsFatal(t *testing.T) {
	host := &fakeHost{diffErr: &providers.DiffFetchError{Provider: "github", Err: errors.New("503")}}
	model := &fakeModel{}

	service := NewService(hostFactory{host}, modelFactory{model}, testConfig())
	result := service.Run(context.Background(), prURL)

	assert.Equal(t, models.StateFailed, result.State)
	var fetchErr *providers.DiffFetchError
	assert.ErrorAs(t, result.Err, &fetchErr)
	assert.Empty(t, host.summaryBody)
}

func TestRun_DeduplicatesAgainstPostedSnapshot(t *testing.T) {
	host := &fakeHost{diff: &diffparse.Result{Files: []*models.ChangedFile{pyFile("a.py", 1)}}}
	model := &fakeModel{review: &ai.BatchReview{
		Suggestions: []models.Suggestion{{FilePath: "a.py", Line: 2, Severity: models.SeverityInfo, Body: "tighten this up"}},
	}}

	service := NewService(hostFactory{host}, modelFactory{model}, testConfig())

	first := service.Run(context.Background(), prURL)
	require.Equal(t, models.StateDone, first.State)
	require.Len(t, host.inlinePosts, 1)

	// Second run sees the first run's comment in the snapshot.
	host.posted = []providers.PostedComment{{
		Path: host.inlinePosts[0].path,
		Line: host.inlinePosts[0].line,
		Body: host.inlinePosts[0].body,
	}}

	second := service.Run(context.Background(), prURL)
	require.Equal(t, models.StateDone, second.State)
	assert.Len(t, host.inlinePosts, 1, "duplicate must not be posted again")
	assert.Equal(t, 1, second.Summary.DuplicatesSuppressed)
}

func TestRun_DeletedFilesSkipped(t *testing.T) {
	deleted := &models.ChangedFile{Path: "gone.py", Status: models.StatusDeleted}
	host := &fakeHost{diff: &diffparse.Result{Files: []*models.ChangedFile{deleted}}}
	model := &fakeModel{review: &ai.BatchReview{}}

	service := NewService(hostFactory{host}, modelFactory{model}, testConfig())
	result := service.Run(context.Background(), prURL)

	require.Equal(t, models.StateDone, result.State)
	require.Len(t, result.Summary.SkippedFiles, 1)
	assert.Equal(t, models.SkipDeleted, result.Summary.SkippedFiles[0].Reason)
	assert.Zero(t, model.calls)
}
