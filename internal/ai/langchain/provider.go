package langchain

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/TurboKach/ai-reviewer/internal/ai"
	"github.com/TurboKach/ai-reviewer/internal/llm"
	"github.com/TurboKach/ai-reviewer/pkg/models"
)

// Provider reviews code through langchaingo model abstractions. The backend
// (openai, anthropic, google) is picked at Configure time.
type Provider struct {
	llm       llms.Model
	backend   string
	apiKey    string
	modelName string
	baseURL   string
	maxTokens int
	logger    zerolog.Logger
}

// Config for the langchain provider
type Config struct {
	Backend   string `json:"backend"`
	APIKey    string `json:"api_key"`
	ModelName string `json:"model_name"`
	BaseURL   string `json:"base_url"`
	MaxTokens int    `json:"max_tokens"`
}

// New creates a langchain-based AI provider
func New(config Config, logger zerolog.Logger) *Provider {
	return &Provider{
		backend:   config.Backend,
		apiKey:    config.APIKey,
		modelName: config.ModelName,
		baseURL:   config.BaseURL,
		maxTokens: config.MaxTokens,
		logger:    logger,
	}
}

func (p *Provider) Name() string {
	if p.backend != "" {
		return "langchain/" + p.backend
	}
	return "langchain"
}

func (p *Provider) MaxTokensPerBatch() int {
	if p.maxTokens <= 0 {
		return 30000
	}
	return p.maxTokens
}

func (p *Provider) Configure(config map[string]interface{}) error {
	if backend, ok := config["backend"].(string); ok {
		p.backend = backend
	}
	if apiKey, ok := config["api_key"].(string); ok {
		p.apiKey = apiKey
	}
	if modelName, ok := config["model_name"].(string); ok {
		p.modelName = modelName
	}
	if baseURL, ok := config["base_url"].(string); ok {
		p.baseURL = baseURL
	}
	switch v := config["max_tokens"].(type) {
	case int:
		p.maxTokens = v
	case float64: // JSON numbers decode as float64
		p.maxTokens = int(v)
	}

	return p.initializeLLM()
}

func (p *Provider) initializeLLM() error {
	if p.apiKey == "" {
		return fmt.Errorf("api key is required")
	}

	var (
		model llms.Model
		err   error
	)

	switch strings.ToLower(p.backend) {
	case "openai", "":
		opts := []openai.Option{
			openai.WithToken(p.apiKey),
			openai.WithModel(p.getModelName()),
		}
		if p.baseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.baseURL))
		}
		model, err = openai.New(opts...)

	case "anthropic":
		model, err = anthropic.New(
			anthropic.WithToken(p.apiKey),
			anthropic.WithModel(p.getModelName()),
		)

	case "google", "googleai", "gemini":
		model, err = googleai.New(context.Background(),
			googleai.WithAPIKey(p.apiKey),
			googleai.WithDefaultModel(p.getModelName()),
		)

	default:
		return fmt.Errorf("unsupported model backend: %s", p.backend)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize %s model: %w", p.backend, err)
	}

	p.llm = model
	return nil
}

func (p *Provider) getModelName() string {
	if p.modelName != "" {
		return p.modelName
	}
	switch strings.ToLower(p.backend) {
	case "anthropic":
		return "claude-3-5-sonnet-20241022"
	case "google", "googleai", "gemini":
		return "gemini-1.5-flash"
	default:
		return "gpt-4o-mini"
	}
}

// ReviewBatch sends one batch of changed files to the model and parses the
// response into suggestions. Parsing is tolerant: a malformed suggestion is
// dropped with a warning, never a failure.
func (p *Provider) ReviewBatch(ctx context.Context, files []models.ChangedFile) (*ai.BatchReview, error) {
	if p.llm == nil {
		if err := p.initializeLLM(); err != nil {
			return nil, &ai.APIError{Provider: p.Name(), Err: err}
		}
	}

	prompt := buildPrompt(files)

	p.logger.Debug().
		Int("files", len(files)).
		Int("prompt_chars", len(prompt)).
		Str("model", p.getModelName()).
		Msg("calling model API")

	response, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt)
	if err != nil {
		return nil, &ai.APIError{Provider: p.Name(), Err: err}
	}

	return p.parseResponse(response, files)
}

// rawSuggestion mirrors the JSON schema the prompt asks for. Each suggestion
// is decoded individually so one malformed entry cannot sink the batch.
type rawSuggestion struct {
	FilePath    string `json:"filePath"`
	Line        int    `json:"line"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Body        string `json:"body"`
	Replacement string `json:"replacement"`
}

type rawResponse struct {
	FileSummary string            `json:"fileSummary"`
	Suggestions []json.RawMessage `json:"suggestions"`
}

func (p *Provider) parseResponse(response string, files []models.ChangedFile) (*ai.BatchReview, error) {
	var resp rawResponse
	stats, err := llm.Decode(response, &resp)
	if err != nil {
		return nil, fmt.Errorf("unparsable model response: %w", err)
	}

	review := &ai.BatchReview{}
	if stats.WasRepaired {
		review.Warnings = append(review.Warnings,
			fmt.Sprintf("model response needed JSON repair (%s)", strings.Join(stats.RepairStrategies, ", ")))
	}

	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f.Path] = true
	}

	for i, raw := range resp.Suggestions {
		var s rawSuggestion
		if err := json.Unmarshal(raw, &s); err != nil {
			review.Warnings = append(review.Warnings,
				fmt.Sprintf("dropped malformed suggestion %d: %v", i+1, err))
			continue
		}
		if strings.TrimSpace(s.Body) == "" {
			review.Warnings = append(review.Warnings,
				fmt.Sprintf("dropped suggestion %d: empty body", i+1))
			continue
		}
		if s.FilePath == "" || !known[s.FilePath] {
			review.Warnings = append(review.Warnings,
				fmt.Sprintf("dropped suggestion %d: unknown file %q", i+1, s.FilePath))
			continue
		}
		if s.Line < 0 {
			s.Line = 0
		}

		review.Suggestions = append(review.Suggestions, models.Suggestion{
			FilePath:    s.FilePath,
			Line:        s.Line,
			Severity:    convertSeverity(s.Severity),
			Category:    s.Category,
			Body:        strings.TrimSpace(s.Body),
			Replacement: s.Replacement,
		})
	}

	if resp.FileSummary != "" {
		p.logger.Debug().Str("summary", resp.FileSummary).Msg("batch summary from model")
	}

	return review, nil
}

func convertSeverity(severity string) models.CommentSeverity {
	switch strings.ToLower(severity) {
	case "critical":
		return models.SeverityCritical
	case "warning":
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// buildPrompt renders the changed files into a review prompt. Each hunk is
// formatted as an OLD | NEW | CONTENT table so the model can reference exact
// post-image line numbers.
func buildPrompt(files []models.ChangedFile) string {
	var prompt strings.Builder

	prompt.WriteString("You are an expert code reviewer. Analyze the following code changes and provide feedback.\n\n")
	prompt.WriteString("Focus on correctness, security, maintainability, and performance.\n")
	prompt.WriteString("Only raise issues that add real value; skip trivial observations and praise.\n\n")

	prompt.WriteString("Format your response as JSON with this structure:\n")
	prompt.WriteString("```json\n")
	prompt.WriteString("{\n")
	prompt.WriteString("  \"fileSummary\": \"Optional one-line summary of the changes\",\n")
	prompt.WriteString("  \"suggestions\": [\n")
	prompt.WriteString("    {\n")
	prompt.WriteString("      \"filePath\": \"path/to/file.ext\",\n")
	prompt.WriteString("      \"line\": 42,\n")
	prompt.WriteString("      \"severity\": \"info|warning|critical\",\n")
	prompt.WriteString("      \"category\": \"bug|security|performance|style\",\n")
	prompt.WriteString("      \"body\": \"Description of the issue and how to fix it\",\n")
	prompt.WriteString("      \"replacement\": \"Optional replacement code for the flagged line\"\n")
	prompt.WriteString("    }\n")
	prompt.WriteString("  ]\n")
	prompt.WriteString("}\n")
	prompt.WriteString("```\n\n")

	prompt.WriteString("LINE NUMBER RULES:\n")
	prompt.WriteString("- Each hunk below is a table with columns OLD | NEW | CONTENT\n")
	prompt.WriteString("- Use the NEW column for \"line\": it is the line number in the updated file\n")
	prompt.WriteString("- Only comment on added lines (+ prefix); use line 0 for file-level remarks\n\n")

	prompt.WriteString("# Code Changes\n\n")

	for _, file := range files {
		prompt.WriteString(fmt.Sprintf("## File: %s", file.Path))
		if hint := languageHint(file.Path); hint != "" {
			prompt.WriteString(fmt.Sprintf(" (%s)", hint))
		}
		prompt.WriteString("\n")
		switch file.Status {
		case models.StatusAdded:
			prompt.WriteString("(New file)\n")
		case models.StatusRenamed:
			prompt.WriteString(fmt.Sprintf("(Renamed from: %s)\n", file.OldPath))
		}
		prompt.WriteString("\n")

		for _, hunk := range file.Hunks {
			prompt.WriteString("```\n")
			prompt.WriteString(formatHunk(hunk))
			prompt.WriteString("```\n\n")
		}
	}

	return prompt.String()
}

// formatHunk renders a hunk as an OLD | NEW | CONTENT table.
func formatHunk(hunk models.Hunk) string {
	var b strings.Builder

	fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", hunk.OldStart, hunk.OldCount, hunk.NewStart, hunk.NewCount)
	b.WriteString("OLD | NEW | CONTENT\n")
	b.WriteString("----|-----|--------\n")

	for _, line := range hunk.Lines {
		var oldNum, newNum, prefix string
		switch line.Kind {
		case models.LineAdded:
			oldNum = "   "
			newNum = fmt.Sprintf("%3d", line.NewLine)
			prefix = "+"
		case models.LineRemoved:
			oldNum = fmt.Sprintf("%3d", line.OldLine)
			newNum = "   "
			prefix = "-"
		default:
			oldNum = fmt.Sprintf("%3d", line.OldLine)
			newNum = fmt.Sprintf("%3d", line.NewLine)
			prefix = " "
		}
		fmt.Fprintf(&b, "%s | %s | %s%s\n", oldNum, newNum, prefix, line.Content)
	}

	return b.String()
}

var languageByExt = map[string]string{
	".go":    "Go",
	".py":    "Python",
	".js":    "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".jsx":   "JavaScript",
	".java":  "Java",
	".rb":    "Ruby",
	".rs":    "Rust",
	".c":     "C",
	".h":     "C",
	".cpp":   "C++",
	".cs":    "C#",
	".php":   "PHP",
	".swift": "Swift",
	".kt":    "Kotlin",
	".sh":    "Shell",
	".sql":   "SQL",
	".yaml":  "YAML",
	".yml":   "YAML",
	".tf":    "Terraform",
}

func languageHint(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}
