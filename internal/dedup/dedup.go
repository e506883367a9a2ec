package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TurboKach/ai-reviewer/internal/mapper"
	"github.com/TurboKach/ai-reviewer/pkg/models"
)

// Deduplicator drops candidate comments that already exist on the pull
// request. Identity is (file, line, normalized body hash), checked against
// the snapshot of posted comments taken at run start.
type Deduplicator struct {
	seen   map[key]bool
	logger zerolog.Logger
}

type key struct {
	filePath string
	line     int
	bodyHash string
}

// New builds a deduplicator from the posted-comment snapshot.
func New(posted []models.PostedComment, logger zerolog.Logger) *Deduplicator {
	seen := make(map[key]bool, len(posted))
	for _, c := range posted {
		seen[key{filePath: c.FilePath, line: c.Line, bodyHash: c.BodyHash}] = true
	}
	return &Deduplicator{seen: seen, logger: logger}
}

// Filter returns the comments not already present on the pull request,
// along with the number suppressed. Duplicates within the candidate set
// itself are also collapsed.
func (d *Deduplicator) Filter(candidates []mapper.Comment) (kept []mapper.Comment, suppressed int) {
	for _, c := range candidates {
		k := key{filePath: c.FilePath, line: c.Line, bodyHash: HashBody(c.Body)}
		if d.seen[k] {
			suppressed++
			d.logger.Debug().
				Str("file", c.FilePath).
				Int("line", c.Line).
				Msg("suppressing duplicate comment")
			continue
		}
		d.seen[k] = true
		kept = append(kept, c)
	}
	return kept, suppressed
}

// HashBody hashes a comment body after normalization, so trivial formatting
// differences do not defeat deduplication.
func HashBody(body string) string {
	sum := sha256.Sum256([]byte(NormalizeBody(body)))
	return hex.EncodeToString(sum[:])
}

// NormalizeBody lowercases the body and collapses all whitespace runs to a
// single space.
func NormalizeBody(body string) string {
	return strings.Join(strings.Fields(strings.ToLower(body)), " ")
}
