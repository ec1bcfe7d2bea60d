package compaction

import (
	"context"
	"fmt"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

// maskThresholdBytes is the size above which a tool observation is masked
// out of the live transcript and replaced with a pointer into the artifact
// store, rather than being summarized or pruned with the rest of the turn.
const maskThresholdBytes = 4000

// ArtifactWriter externalizes large tool-result content so the live
// transcript can reference it by ID instead of carrying it verbatim.
// Implemented by internal/domain/artifact.Store.
type ArtifactWriter interface {
	Write(ctx context.Context, content []byte, contentType string) (id string, err error)
}

// MaskingStage replaces oversized tool-result content with a short
// reference, on the theory that a large file dump or command output is
// rarely re-read verbatim once the turn has moved on — it can always be
// refetched from the artifact store if actually needed again.
type MaskingStage struct {
	Artifacts ArtifactWriter
}

func (s *MaskingStage) Name() string { return "observation_masking" }

func (s *MaskingStage) Run(ctx context.Context, messages []entity.Message, budget Budget, tok Tokenizer) ([]entity.Message, int, error) {
	tail := len(messages) - budget.PreserveN
	if tail < 0 {
		tail = 0
	}

	freed := 0
	out := make([]entity.Message, len(messages))
	copy(out, messages)

	for i := 0; i < tail; i++ {
		m := out[i]
		if m.Role != entity.RoleTool {
			continue
		}
		if len(m.Content) <= maskThresholdBytes {
			continue
		}
		freed += tok.Count(m.Content)

		if s.Artifacts != nil {
			if id, err := s.Artifacts.Write(ctx, []byte(m.Content), "text/plain"); err == nil {
				m.Content = fmt.Sprintf("[observation masked: %d bytes externalized, see artifact %s]", len(m.Content), id)
				out[i] = m
				continue
			}
		}
		m.Content = fmt.Sprintf("[observation masked: %d bytes dropped]", len(m.Content))
		out[i] = m
	}
	return out, freed, nil
}
