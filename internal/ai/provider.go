package ai

import (
	"context"
	"fmt"

	"github.com/TurboKach/ai-reviewer/pkg/models"
)

// BatchReview is what a provider returns for one batch of changed files.
// Warnings carry non-fatal parsing issues (malformed suggestions that were
// dropped, repaired JSON) so the run summary can surface them.
type BatchReview struct {
	Suggestions []models.Suggestion
	Warnings    []string
}

// Provider is an AI backend that can review code changes.
type Provider interface {
	// ReviewBatch sends one batch of changed files to the model and returns
	// the parsed suggestions. A malformed model response is not an error:
	// unusable suggestions are dropped and reported through Warnings.
	ReviewBatch(ctx context.Context, files []models.ChangedFile) (*BatchReview, error)

	// Configure sets up the provider with needed configuration
	Configure(config map[string]interface{}) error

	// Name returns the provider's name
	Name() string

	// MaxTokensPerBatch returns the maximum number of tokens allowed per batch
	MaxTokensPerBatch() int
}

// APIError is a failed call to the model API after retries were exhausted.
type APIError struct {
	Provider string
	Err      error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model API call failed (%s): %v", e.Provider, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Factory creates AI providers based on configuration
type Factory interface {
	Create(name string, config map[string]interface{}) (Provider, error)
}

// DefaultFactory is the default implementation of Factory
type DefaultFactory struct {
	providers map[string]Provider
}

// NewDefaultFactory creates a new DefaultFactory
func NewDefaultFactory() *DefaultFactory {
	return &DefaultFactory{
		providers: make(map[string]Provider),
	}
}

// Register registers a provider with the factory
func (f *DefaultFactory) Register(name string, provider Provider) {
	f.providers[name] = provider
}

// Create looks up a registered provider and configures it
func (f *DefaultFactory) Create(name string, config map[string]interface{}) (Provider, error) {
	provider, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("ai provider not found: %s", name)
	}

	if err := provider.Configure(config); err != nil {
		return nil, err
	}

	return provider, nil
}
