package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

// Summarizer condenses a run of messages into a single replacement message.
// The agent-builder's own model is the usual implementation; TruncationSummarizer
// is the no-model fallback used when one isn't wired in or the call fails.
type Summarizer interface {
	Summarize(ctx context.Context, messages []entity.Message) (string, error)
}

const summaryPrompt = `Compress the following conversation into a structured state snapshot.
Preserve unfinished task state, key decisions and their reasons, and modified
file paths. Drop verbatim code and intermediate debugging output.

Conversation:
%s

Snapshot:`

// ModelSummarizer calls out to the bound agent's own completion model to
// produce the snapshot. It is a thin prompt wrapper — the model itself is a
// collaborator, not something this package owns.
type ModelSummarizer struct {
	Generate func(ctx context.Context, prompt string) (string, error)
}

func (s *ModelSummarizer) Summarize(ctx context.Context, messages []entity.Message) (string, error) {
	if s.Generate == nil {
		return "", fmt.Errorf("no model generate function configured")
	}
	var sb strings.Builder
	for _, m := range messages {
		text := m.Content
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, text)
	}
	out, err := s.Generate(ctx, fmt.Sprintf(summaryPrompt, sb.String()))
	if err != nil {
		return "", err
	}
	return out, nil
}

// TruncationSummarizer builds a summary without calling a model: a bullet
// per message, truncated, tagged by role. Used as the fallback when the
// model-backed summarizer errors or isn't configured.
type TruncationSummarizer struct{}

func (TruncationSummarizer) Summarize(ctx context.Context, messages []entity.Message) (string, error) {
	var parts []string
	userN, assistantN, toolCallN := 0, 0, 0
	for _, m := range messages {
		switch m.Role {
		case entity.RoleAssistant:
			assistantN++
			toolCallN += len(m.ToolCalls)
			if m.Content != "" {
				text := m.Content
				if len(text) > 200 {
					text = text[:200] + "..."
				}
				parts = append(parts, "Assistant: "+text)
			}
		case entity.RoleUser:
			userN++
			text := m.Content
			if len(text) > 100 {
				text = text[:100] + "..."
			}
			parts = append(parts, "User: "+text)
		}
	}
	header := fmt.Sprintf("[%d messages summarized: %d user, %d assistant, %d tool calls]",
		len(messages), userN, assistantN, toolCallN)
	return header + "\n" + strings.Join(parts, "\n"), nil
}

// SummarizeStage replaces the compactible middle of the transcript with a
// single summary message, falling back to TruncationSummarizer on error.
type SummarizeStage struct {
	summarizer Summarizer
}

func (s *SummarizeStage) Name() string { return "progressive_summarization" }

func (s *SummarizeStage) Run(ctx context.Context, messages []entity.Message, budget Budget, tok Tokenizer) ([]entity.Message, int, error) {
	preserveN := budget.PreserveN
	if preserveN <= 0 {
		preserveN = 4
	}
	if preserveN >= len(messages) {
		return messages, 0, nil
	}

	firstKept := 0
	if len(messages) > 0 && messages[0].Role == entity.RoleSystem {
		firstKept = 1
	}
	middleEnd := len(messages) - preserveN
	if middleEnd <= firstKept {
		return messages, 0, nil
	}
	middle := messages[firstKept:middleEnd]

	summarizer := s.summarizer
	if summarizer == nil {
		summarizer = TruncationSummarizer{}
	}

	text, err := summarizer.Summarize(ctx, middle)
	if err != nil || text == "" {
		text, _ = TruncationSummarizer{}.Summarize(ctx, middle)
	}

	freed := 0
	for _, m := range middle {
		freed += tok.Count(m.Content)
	}

	out := make([]entity.Message, 0, firstKept+1+preserveN)
	out = append(out, messages[:firstKept]...)
	out = append(out, entity.Message{
		Role:    entity.RoleUser,
		Content: "[Previous conversation summary]\n\n" + text,
	})
	out = append(out, messages[len(messages)-preserveN:]...)
	return out, freed, nil
}
