package compaction

import (
	"context"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

// PruneStage drops middle-of-transcript messages outright, keeping only the
// system/first message and the preserved tail. In the standard pipeline it
// runs before summarization, which then has no middle left to condense.
type PruneStage struct{}

func (s *PruneStage) Name() string { return "pruning" }

func (s *PruneStage) Run(ctx context.Context, messages []entity.Message, budget Budget, tok Tokenizer) ([]entity.Message, int, error) {
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

	freed := 0
	for _, m := range messages[firstKept:middleEnd] {
		freed += tok.Count(m.Content)
	}

	out := make([]entity.Message, 0, firstKept+preserveN)
	out = append(out, messages[:firstKept]...)
	out = append(out, messages[len(messages)-preserveN:]...)
	return out, freed, nil
}
