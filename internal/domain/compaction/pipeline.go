// Package compaction implements the four-stage context-compaction pipeline:
// observation masking, memory flush, pruning, and progressive summarization.
// Each stage runs independently and in order; a turn only proceeds past a
// stage once the transcript is back under budget, or every stage has run.
package compaction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

// Budget reports how a transcript compares against the turn's token ceiling.
type Budget struct {
	MaxTokens   int
	UsedTokens  int
	SoftRatio   float64 // compaction begins once UsedTokens crosses MaxTokens*SoftRatio
	PreserveN   int      // messages at the tail that are never touched
}

func (b Budget) softThreshold() int { return int(float64(b.MaxTokens) * b.SoftRatio) }

// NeedsCompaction reports whether the soft threshold has been crossed.
func (b Budget) NeedsCompaction() bool { return b.UsedTokens >= b.softThreshold() }

// Stage is one step of the pipeline. It returns the transformed messages and
// the token count freed, so the pipeline can stop once the budget is met.
type Stage interface {
	Name() string
	Run(ctx context.Context, messages []entity.Message, budget Budget, tok Tokenizer) ([]entity.Message, int, error)
}

// Tokenizer estimates the token cost of a message's content, matching
// whatever the bound agent-builder's model actually counts against.
type Tokenizer interface {
	Count(text string) int
}

// Pipeline runs the ordered compaction stages until the transcript fits the
// turn's token budget or every stage has been applied once.
type Pipeline struct {
	stages []Stage
	tok    Tokenizer
	logger *zap.Logger
}

// NewPipeline builds the standard four-stage pipeline: masking, memory
// flush, pruning, summarization — in that order, cheapest and most
// reversible first. artifacts may be nil, in which case masked content is
// dropped rather than externalized (as it also is when a write fails).
func NewPipeline(tok Tokenizer, artifacts ArtifactWriter, flush *MemoryFlusher, summarizer Summarizer, logger *zap.Logger) *Pipeline {
	if tok == nil {
		tok = NewCharTokenizer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		stages: []Stage{
			&MaskingStage{Artifacts: artifacts},
			&MemoryFlushStage{flusher: flush},
			&PruneStage{},
			&SummarizeStage{summarizer: summarizer},
		},
		tok:    tok,
		logger: logger,
	}
}

// Run applies stages in order, stopping as soon as the transcript is back
// under the soft threshold. It always returns a valid message slice even if
// every stage is exhausted without reaching the target (the final pruning
// and summarization stages are the backstop).
func (p *Pipeline) Run(ctx context.Context, messages []entity.Message, budget Budget) ([]entity.Message, error) {
	if !budget.NeedsCompaction() {
		return messages, nil
	}

	current := messages
	for _, stage := range p.stages {
		before := p.totalTokens(current)
		next, freed, err := stage.Run(ctx, current, budget, p.tok)
		if err != nil {
			p.logger.Warn("compaction stage failed, continuing to next stage",
				zap.String("stage", stage.Name()),
				zap.Error(err),
			)
			continue
		}
		current = next
		after := p.totalTokens(current)
		p.logger.Info("compaction stage applied",
			zap.String("stage", stage.Name()),
			zap.Int("tokens_before", before),
			zap.Int("tokens_after", after),
			zap.Int("tokens_freed_reported", freed),
		)
		budget.UsedTokens = after
		if !budget.NeedsCompaction() {
			break
		}
	}
	return current, nil
}

// StageNames returns the pipeline's stages in execution order, for the
// status HTTP surface.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

func (p *Pipeline) totalTokens(messages []entity.Message) int {
	total := 0
	for _, m := range messages {
		total += p.tok.Count(m.Content)
	}
	return total
}

// CharTokenizer is a character-ratio token estimator used when no model
// tokenizer is wired in, e.g. during tests or for collaborators that don't
// expose their own count.
type CharTokenizer struct {
	charsPerToken float64
}

// NewCharTokenizer returns a tokenizer using a fixed chars-per-token ratio.
func NewCharTokenizer() *CharTokenizer {
	return &CharTokenizer{charsPerToken: 4.0}
}

// Count estimates token usage from rune count.
func (t *CharTokenizer) Count(text string) int {
	n := len([]rune(text))
	return n/int(t.charsPerToken) + 1
}

// Summary renders a short, human-readable accounting of what a run did, for
// the status HTTP surface.
func Summary(before, after int) string {
	if before == 0 {
		return "no compaction performed"
	}
	pct := 100 - (after*100)/before
	return fmt.Sprintf("%d -> %d tokens (%d%% reduction)", before, after, pct)
}
