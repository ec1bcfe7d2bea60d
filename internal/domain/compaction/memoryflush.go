package compaction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

// memoryCandidatePattern recognizes lines in an assistant message that read
// like a fact worth remembering across sessions — a decision, a preference,
// an environment detail — without calling back into a model to decide.
var memoryCandidatePattern = regexp.MustCompile(`(?i)^(?:[-*•]\s*)?(remember|note|decided|preference|always use|never use)\b`)

// MemoryFlusher appends durable facts to the day's markdown log before the
// turns that produced them are pruned or summarized away.
type MemoryFlusher struct {
	dir string
}

// NewMemoryFlusher creates a flusher writing under dir (one file per day,
// named YYYY-MM-DD.md).
func NewMemoryFlusher(dir string) *MemoryFlusher {
	return &MemoryFlusher{dir: dir}
}

// Flush appends one line per recognized fact, plus a one-line note summarizing
// how many messages are about to be compacted away.
func (f *MemoryFlusher) Flush(messages []entity.Message) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create memory log dir: %w", err)
	}

	facts := extractCandidates(messages)

	path := filepath.Join(f.dir, time.Now().Format("2006-01-02")+".md")
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open memory log: %w", err)
	}
	defer fh.Close()

	stamp := time.Now().Format("15:04")
	if len(facts) == 0 {
		_, err = fmt.Fprintf(fh, "- [%s] [compaction] %d messages compacted, no durable facts extracted\n", stamp, len(messages))
		return err
	}
	for _, fact := range facts {
		if _, err := fmt.Fprintf(fh, "- [%s] %s\n", stamp, fact); err != nil {
			return err
		}
	}
	return nil
}

func extractCandidates(messages []entity.Message) []string {
	var facts []string
	for _, m := range messages {
		if m.Role != entity.RoleAssistant && m.Role != entity.RoleUser {
			continue
		}
		for _, line := range strings.Split(m.Content, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || !memoryCandidatePattern.MatchString(line) {
				continue
			}
			line = strings.TrimPrefix(line, "- ")
			line = strings.TrimPrefix(line, "* ")
			line = strings.TrimPrefix(line, "• ")
			if len(line) > 5 {
				facts = append(facts, line)
			}
		}
	}
	return facts
}

// MemoryFlushStage runs the flusher as a pipeline stage. It never removes
// messages itself — it only ensures their durable facts survive — so it
// always reports zero tokens freed.
type MemoryFlushStage struct {
	flusher *MemoryFlusher
}

func (s *MemoryFlushStage) Name() string { return "memory_flush" }

func (s *MemoryFlushStage) Run(ctx context.Context, messages []entity.Message, budget Budget, tok Tokenizer) ([]entity.Message, int, error) {
	if s.flusher == nil {
		return messages, 0, nil
	}
	tail := len(messages) - budget.PreserveN
	if tail <= 0 {
		return messages, 0, nil
	}
	if err := s.flusher.Flush(messages[:tail]); err != nil {
		return messages, 0, err
	}
	return messages, 0, nil
}
