package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TurboKach/ai-reviewer/internal/providers"
	"github.com/TurboKach/ai-reviewer/pkg/models"
)

func testProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := New("test-token", zerolog.Nop())
	p.baseURL = server.URL
	return p
}

var ref = providers.Ref{Owner: "acme", Repo: "widgets", Number: 5}

func TestGetPullRequestDetails(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/pulls/5", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"title": "Add rate limiting",
			"state": "open",
			"user":  map[string]string{"login": "dev"},
			"head":  map[string]string{"sha": "abc123", "ref": "feature"},
			"base":  map[string]string{"sha": "def456", "ref": "main"},
		})
	}))

	pr, err := p.GetPullRequestDetails(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, "Add rate limiting", pr.Title)
	assert.Equal(t, "dev", pr.Author)
	assert.Equal(t, "abc123", pr.HeadSHA)
	assert.Equal(t, "main", pr.TargetBranch)
}

func TestGetPullRequestDetails_HTTPError(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	}))

	_, err := p.GetPullRequestDetails(context.Background(), ref)

	var fetchErr *providers.DiffFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "github", fetchErr.Provider)
}

func TestGetChangedFiles_ParsesPatches(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			json.NewEncoder(w).Encode([]interface{}{})
			return
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"filename": "src/app.py",
				"status":   "modified",
				"patch":    "@@ -1,1 +1,2 @@\n-old\n+new\n+extra",
			},
			{
				"filename": "bad.py",
				"status":   "modified",
				"patch":    "@@ not a header @@\n+x",
			},
		})
	}))

	result, err := p.GetChangedFiles(context.Background(), ref)
	require.NoError(t, err)

	require.Len(t, result.Files, 1)
	file := result.Files[0]
	assert.Equal(t, "src/app.py", file.Path)
	require.Len(t, file.Hunks, 1)
	assert.Equal(t, models.LineAdded, file.Hunks[0].Lines[1].Kind)
	assert.Equal(t, 1, file.Hunks[0].Lines[1].NewLine)

	require.Len(t, result.Unparsable, 1)
	assert.Equal(t, "bad.py", result.Unparsable[0].Path)
	assert.Equal(t, models.SkipUnparsable, result.Unparsable[0].Reason)
}

func TestListPostedComments_MergesReviewAndIssueComments(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			json.NewEncoder(w).Encode([]interface{}{})
			return
		}
		switch r.URL.Path {
		case "/repos/acme/widgets/pulls/5/comments":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"path": "a.go", "line": 3, "body": "inline note"},
			})
		case "/repos/acme/widgets/issues/5/comments":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"body": "general note"},
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))

	posted, err := p.ListPostedComments(context.Background(), ref)
	require.NoError(t, err)

	require.Len(t, posted, 2)
	assert.Equal(t, providers.PostedComment{Path: "a.go", Line: 3, Body: "inline note"}, posted[0])
	assert.Equal(t, providers.PostedComment{Body: "general note"}, posted[1])
}

func TestPostInlineComment(t *testing.T) {
	var payload map[string]interface{}
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/widgets/pulls/5/comments", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusCreated)
	}))

	pr := &providers.PullRequest{HeadSHA: "abc123"}
	err := p.PostInlineComment(context.Background(), ref, pr, "src/app.py", 11, "use fsum")
	require.NoError(t, err)

	assert.Equal(t, "use fsum", payload["body"])
	assert.Equal(t, "abc123", payload["commit_id"])
	assert.Equal(t, "src/app.py", payload["path"])
	assert.Equal(t, float64(11), payload["line"])
	assert.Equal(t, "RIGHT", payload["side"])
}

func TestPostInlineComment_FailureIsTyped(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unprocessable Entity", http.StatusUnprocessableEntity)
	}))

	err := p.PostInlineComment(context.Background(), ref, &providers.PullRequest{}, "a.go", 1, "x")

	var postErr *providers.CommentPostError
	require.ErrorAs(t, err, &postErr)
	assert.Equal(t, "a.go", postErr.Path)
}

func TestPostSummaryComment(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/issues/5/comments", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
	}))

	require.NoError(t, p.PostSummaryComment(context.Background(), ref, "summary body"))
}

func TestConfigure_RequiresToken(t *testing.T) {
	p := New("", zerolog.Nop())
	assert.Error(t, p.Configure(map[string]interface{}{}))
	assert.NoError(t, p.Configure(map[string]interface{}{"token": "t"}))
}
