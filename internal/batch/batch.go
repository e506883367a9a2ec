package batch

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TurboKach/ai-reviewer/pkg/models"
)

// Processor splits eligible changed files into model-sized batches under a
// configurable token budget.
type Processor struct {
	MaxBatchTokens int
	Counter        TokenCounter
	Logger         zerolog.Logger
}

// TokenCounter is an interface for counting tokens in different content types
type TokenCounter interface {
	CountTokens(content string) int
}

// SimpleTokenCounter is a basic implementation of TokenCounter
// that estimates tokens based on word count and special characters
type SimpleTokenCounter struct{}

var specialChars = regexp.MustCompile(`[.,!?;:(){}\[\]<>+\-*/=@#$%^&|~]`)

// CountTokens estimates the number of tokens in the given content.
// This is a simple heuristic and not as accurate as model-specific tokenizers.
func (c *SimpleTokenCounter) CountTokens(content string) int {
	words := strings.Fields(content)
	specialCount := len(specialChars.FindAllString(content, -1))
	return len(words) + specialCount
}

// NewProcessor creates a Processor with the given token budget. A
// non-positive budget falls back to the default.
func NewProcessor(maxBatchTokens int, logger zerolog.Logger) *Processor {
	if maxBatchTokens <= 0 {
		maxBatchTokens = 10000
	}
	return &Processor{
		MaxBatchTokens: maxBatchTokens,
		Counter:        &SimpleTokenCounter{},
		Logger:         logger,
	}
}

// Input is the outcome of preparing files for batching: the batches
// themselves plus anything dropped or clipped along the way.
type Input struct {
	Batches         [][]models.ChangedFile
	Skipped         []models.SkippedFile
	TruncationNotes []string
	TotalTokens     int
}

// Prepare filters out non-reviewable files (binary content), truncates
// single files that exceed the whole batch budget, and packs the remainder
// greedily into batches under MaxBatchTokens.
func (p *Processor) Prepare(files []models.ChangedFile) *Input {
	input := &Input{}

	var eligible []models.ChangedFile
	for _, file := range files {
		if p.isBinary(file) {
			p.Logger.Info().Str("file", file.Path).Msg("skipping binary file")
			input.Skipped = append(input.Skipped, models.SkippedFile{
				Path:   file.Path,
				Reason: models.SkipBinary,
			})
			continue
		}

		tokens := p.fileTokens(file)
		if tokens > p.MaxBatchTokens {
			truncated, kept := p.truncate(file)
			note := fmt.Sprintf("%s exceeded the token budget (%d > %d); reviewed the first %d of %d hunks",
				file.Path, tokens, p.MaxBatchTokens, kept, len(file.Hunks))
			p.Logger.Warn().Str("file", file.Path).Int("tokens", tokens).Msg("truncating oversized file")
			input.TruncationNotes = append(input.TruncationNotes, note)
			file = truncated
		}
		eligible = append(eligible, file)
	}

	input.Batches, input.TotalTokens = p.pack(eligible)
	return input
}

// pack greedily fills batches up to the token budget, preserving file order.
func (p *Processor) pack(files []models.ChangedFile) ([][]models.ChangedFile, int) {
	var batches [][]models.ChangedFile
	var current []models.ChangedFile
	currentTokens := 0
	totalTokens := 0

	for _, file := range files {
		tokens := p.fileTokens(file)
		totalTokens += tokens

		if currentTokens+tokens > p.MaxBatchTokens && len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, file)
		currentTokens += tokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	p.Logger.Debug().
		Int("files", len(files)).
		Int("batches", len(batches)).
		Int("total_tokens", totalTokens).
		Msg("packed review batches")

	return batches, totalTokens
}

// truncate drops trailing hunks until the file fits the batch budget. At
// least one hunk is always kept so the file still surfaces in the review.
func (p *Processor) truncate(file models.ChangedFile) (models.ChangedFile, int) {
	kept := file
	kept.Hunks = nil

	tokens := p.Counter.CountTokens(file.Path)
	for _, hunk := range file.Hunks {
		hunkTokens := p.hunkTokens(hunk)
		if len(kept.Hunks) > 0 && tokens+hunkTokens > p.MaxBatchTokens {
			break
		}
		kept.Hunks = append(kept.Hunks, hunk)
		tokens += hunkTokens
	}

	return kept, len(kept.Hunks)
}

func (p *Processor) fileTokens(file models.ChangedFile) int {
	tokens := p.Counter.CountTokens(file.Path)
	for _, hunk := range file.Hunks {
		tokens += p.hunkTokens(hunk)
	}
	return tokens
}

func (p *Processor) hunkTokens(hunk models.Hunk) int {
	tokens := 0
	for _, line := range hunk.Lines {
		tokens += p.Counter.CountTokens(line.Content)
	}
	return tokens
}

// isBinary determines if a file should be excluded from text review, by
// extension first and content sampling second.
func (p *Processor) isBinary(file models.ChangedFile) bool {
	ext := strings.ToLower(filepath.Ext(file.Path))
	if binaryExtensions[ext] {
		return true
	}

	if len(file.Hunks) == 0 {
		return false
	}

	// Sample content from the first few hunks for binary detection
	var sample strings.Builder
	for i, hunk := range file.Hunks {
		if i >= 3 {
			break
		}
		for _, line := range hunk.Lines {
			if sample.Len() >= 768 {
				break
			}
			sample.WriteString(line.Content)
			sample.WriteByte('\n')
		}
	}

	return IsBinaryContent(sample.String())
}

// binaryExtensions lists common binary formats that never get text review.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".tif": true, ".tiff": true, ".webp": true, ".svg": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true, ".lib": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true, ".7z": true,
	".rar": true, ".jar": true, ".war": true, ".ear": true, ".class": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".bin": true, ".dat": true, ".o": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".webm": true, ".ttf": true, ".woff": true, ".woff2": true,
	".eot": true, ".pyc": true, ".pyd": true, ".pyo": true,
}

// IsBinaryContent checks if content is likely binary (non-text) using a
// simple heuristic: null bytes and the ratio of non-printable characters in
// a bounded sample.
func IsBinaryContent(content string) bool {
	if len(content) == 0 {
		return false
	}

	if strings.Contains(content, "\x00") {
		return true
	}

	sampleSize := 512
	if len(content) < sampleSize {
		sampleSize = len(content)
	}

	sample := content[:sampleSize]
	nonPrintable := 0

	for _, r := range sample {
		if (r < 32 && r != 9 && r != 10 && r != 13) || r >= 127 {
			nonPrintable++
		}
	}

	// If more than 30% of characters are non-printable, consider it binary
	return float64(nonPrintable)/float64(sampleSize) > 0.3
}
