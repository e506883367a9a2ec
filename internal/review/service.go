package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TurboKach/ai-reviewer/internal/ai"
	"github.com/TurboKach/ai-reviewer/internal/batch"
	"github.com/TurboKach/ai-reviewer/internal/config"
	"github.com/TurboKach/ai-reviewer/internal/dedup"
	"github.com/TurboKach/ai-reviewer/internal/filter"
	"github.com/TurboKach/ai-reviewer/internal/logging"
	"github.com/TurboKach/ai-reviewer/internal/mapper"
	"github.com/TurboKach/ai-reviewer/internal/providers"
	"github.com/TurboKach/ai-reviewer/internal/retry"
	"github.com/TurboKach/ai-reviewer/pkg/models"
)

// Service orchestrates a review run: fetch the diff, filter files, request
// model reviews, anchor suggestions, deduplicate, and publish.
type Service struct {
	providerFactory providers.Factory
	aiFactory       ai.Factory
	cfg             *config.Config
}

// Result is the outcome of one review run. State is StateDone even when
// individual comments failed to post; only errors that stop the pipeline
// produce StateFailed.
type Result struct {
	RunID    string
	State    models.RunState
	Summary  *models.ReviewSummary
	Err      error
	Duration time.Duration
}

// NewService creates a review service
func NewService(providerFactory providers.Factory, aiFactory ai.Factory, cfg *config.Config) *Service {
	return &Service{
		providerFactory: providerFactory,
		aiFactory:       aiFactory,
		cfg:             cfg,
	}
}

// Run executes the full review pipeline for one pull request URL.
func (s *Service) Run(ctx context.Context, prURL string) *Result {
	start := time.Now()
	runID := uuid.NewString()[:8]
	logger := logging.RunLogger(runID)

	result := &Result{RunID: runID, State: models.StateStarted}

	setState := func(next models.RunState) {
		result.State = next
		logger.Info().Str("state", string(next)).Msg("state transition")
	}

	fail := func(err error) *Result {
		logger.Error().Err(err).Str("state", string(result.State)).Msg("review run failed")
		result.State = models.StateFailed
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}

	setState(models.StateStarted)
	logger.Info().Str("url", prURL).Msg("starting review run")

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Review.Timeout)
	defer cancel()

	providerName, ref, err := providers.ParsePullRequestURL(prURL)
	if err != nil {
		return fail(&config.FatalError{Reason: err.Error()})
	}

	provider, err := s.providerFactory.Create(providerName, s.cfg.Providers[providerName])
	if err != nil {
		return fail(&config.FatalError{Reason: err.Error()})
	}

	aiProvider, err := s.createAIProvider()
	if err != nil {
		return fail(&config.FatalError{Reason: err.Error()})
	}

	// Fetch PR metadata, the posted-comment snapshot, and the diff. The
	// snapshot is taken exactly once, before any publishing.
	pr, err := provider.GetPullRequestDetails(ctx, ref)
	if err != nil {
		return fail(err)
	}
	logger.Info().
		Str("pr", ref.String()).
		Str("title", pr.Title).
		Str("head_sha", pr.HeadSHA).
		Msg("fetched pull request details")

	postedRaw, err := provider.ListPostedComments(ctx, ref)
	if err != nil {
		return fail(err)
	}
	posted := make([]models.PostedComment, 0, len(postedRaw))
	for _, c := range postedRaw {
		posted = append(posted, models.PostedComment{
			FilePath: c.Path,
			Line:     c.Line,
			BodyHash: dedup.HashBody(c.Body),
		})
	}

	diff, err := provider.GetChangedFiles(ctx, ref)
	if err != nil {
		return fail(err)
	}
	setState(models.StateDiffFetched)
	logger.Info().
		Int("files", len(diff.Files)).
		Int("unparsable", len(diff.Unparsable)).
		Int("posted_comments", len(posted)).
		Msg("fetched diff")

	// Filter stage. Deleted files have no post-image to anchor comments to.
	summary := &models.ReviewSummary{}
	summary.SkippedFiles = append(summary.SkippedFiles, diff.Unparsable...)

	rules := filter.ParseRules(s.cfg.Filter.Whitelist, s.cfg.Filter.Blacklist)
	var included []models.ChangedFile
	for _, file := range diff.Files {
		if file.Status == models.StatusDeleted {
			summary.SkippedFiles = append(summary.SkippedFiles, models.SkippedFile{
				Path:   file.Path,
				Reason: models.SkipDeleted,
			})
			continue
		}
		if ok, reason := rules.Evaluate(file.Path); !ok {
			logger.Debug().Str("file", file.Path).Str("reason", reason).Msg("file filtered out")
			summary.SkippedFiles = append(summary.SkippedFiles, models.SkippedFile{
				Path:   file.Path,
				Reason: reason,
			})
			continue
		}
		included = append(included, *file)
	}
	setState(models.StateFiltered)
	logger.Info().
		Int("included", len(included)).
		Int("skipped", len(summary.SkippedFiles)).
		Msg("filter stage complete")

	// Batch and review. Each batch is retried independently; a batch that
	// still fails marks its files skipped and the run continues.
	processor := batch.NewProcessor(s.cfg.Batch.MaxBatchTokens, logger)
	input := processor.Prepare(included)
	summary.SkippedFiles = append(summary.SkippedFiles, input.Skipped...)
	summary.TruncationNotes = input.TruncationNotes

	suggestions, reviewed := s.reviewBatches(ctx, logger, aiProvider, input, summary)
	setState(models.StateReviewed)
	logger.Info().
		Int("reviewed_files", len(reviewed)).
		Int("suggestions", len(suggestions)).
		Msg("review stage complete")

	for _, file := range reviewed {
		summary.ReviewedFiles = append(summary.ReviewedFiles, file.Path)
	}

	// Anchor suggestions to diff lines.
	comments := mapper.New(logger).Map(suggestions, reviewed)
	setState(models.StateMapped)

	// Drop anything already on the PR.
	kept, suppressed := dedup.New(posted, logger).Filter(comments)
	summary.DuplicatesSuppressed = suppressed
	setState(models.StateDeduped)

	// Publish. Inline failures are counted, never fatal. The summary
	// comment is always posted last.
	setState(models.StatePublishing)
	for _, comment := range kept {
		if comment.Line == 0 {
			summary.GeneralComments = append(summary.GeneralComments, comment.Body)
			continue
		}
		summary.SuggestionCount++
		if err := provider.PostInlineComment(ctx, ref, pr, comment.FilePath, comment.Line, comment.Body); err != nil {
			logger.Warn().Err(err).
				Str("file", comment.FilePath).
				Int("line", comment.Line).
				Msg("failed to post inline comment")
			summary.FailedPosts++
		}
	}

	if err := provider.PostSummaryComment(ctx, ref, RenderSummary(summary)); err != nil {
		logger.Warn().Err(err).Msg("failed to post summary comment")
		summary.FailedPosts++
	}

	setState(models.StateDone)
	result.Summary = summary
	result.Duration = time.Since(start)
	logger.Info().
		Dur("duration", result.Duration).
		Int("suggestions", summary.SuggestionCount).
		Int("failed_posts", summary.FailedPosts).
		Msg("review run complete")
	return result
}

// reviewBatches runs the prepared batches through the worker pool, applying
// the retry policy around each model call.
func (s *Service) reviewBatches(ctx context.Context, logger zerolog.Logger, aiProvider ai.Provider, input *batch.Input, summary *models.ReviewSummary) ([]models.Suggestion, []models.ChangedFile) {
	if len(input.Batches) == 0 {
		return nil, nil
	}

	retryCfg := retry.ModelConfig()
	if s.cfg.Retry.MaxRetries > 0 {
		retryCfg.MaxRetries = s.cfg.Retry.MaxRetries
	}
	if s.cfg.Retry.BaseDelay > 0 {
		retryCfg.BaseDelay = s.cfg.Retry.BaseDelay
	}
	if s.cfg.Retry.MaxDelay > 0 {
		retryCfg.MaxDelay = s.cfg.Retry.MaxDelay
	}

	ids := make([]string, len(input.Batches))
	for i := range input.Batches {
		ids[i] = fmt.Sprintf("batch-%d", i+1)
	}

	queue := batch.NewTaskQueue(s.cfg.Batch.MaxWorkers)
	results := queue.ProcessAll(ctx, input.Batches, ids, func(ctx context.Context, batchID string, files []models.ChangedFile) *batch.Result {
		batchLogger := logger.With().Str("batch", batchID).Logger()

		var review *ai.BatchReview
		err := retry.Do(ctx, retryCfg, batchLogger, func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.Review.CallTimeout)
			defer cancel()

			r, err := aiProvider.ReviewBatch(callCtx, files)
			if err != nil {
				return err
			}
			review = r
			return nil
		})
		if err != nil {
			return &batch.Result{Err: err}
		}
		return &batch.Result{Suggestions: review.Suggestions, Warnings: review.Warnings}
	})

	var suggestions []models.Suggestion
	var reviewed []models.ChangedFile
	for _, r := range results {
		if r.Err != nil {
			var apiErr *ai.APIError
			if errors.As(r.Err, &apiErr) {
				logger.Error().Err(apiErr).Str("batch", r.BatchID).Msg("model API calls exhausted retries")
			} else {
				logger.Error().Err(r.Err).Str("batch", r.BatchID).Msg("batch review failed")
			}
			for _, file := range r.Files {
				summary.SkippedFiles = append(summary.SkippedFiles, models.SkippedFile{
					Path:   file.Path,
					Reason: models.SkipReviewFailed,
				})
			}
			continue
		}
		suggestions = append(suggestions, r.Suggestions...)
		summary.ParseWarnings = append(summary.ParseWarnings, r.Warnings...)
		reviewed = append(reviewed, r.Files...)
	}

	return suggestions, reviewed
}

// createAIProvider resolves the configured AI backend through the factory.
// The backend name doubles as the registry key.
func (s *Service) createAIProvider() (ai.Provider, error) {
	name := s.cfg.General.AI

	aiConfig := make(map[string]interface{}, len(s.cfg.AI[name])+1)
	for k, v := range s.cfg.AI[name] {
		aiConfig[k] = v
	}
	if _, ok := aiConfig["backend"]; !ok {
		aiConfig["backend"] = name
	}

	return s.aiFactory.Create(name, aiConfig)
}
