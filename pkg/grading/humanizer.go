package grading

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aurelian-io/chronicle/pkg/llms"
)

const humanizerPromptTemplate = `Rewrite the answer below in a natural, conversational register. Remove scholarly
citation markers like (chapter N, task TXXX) and bracketed source tags, but keep
every fact, every quoted line of dialogue, and the original language. Do not add
information. Return only the rewritten answer.

## Answer
%s`

// Humanizer strips academic citation markup from a passing answer
// while preserving its facts. It runs only after the grader passes,
// so the raw cited answer is already recorded.
type Humanizer struct {
	llm llms.Provider
}

func NewHumanizer(llm llms.Provider) *Humanizer {
	return &Humanizer{llm: llm}
}

// Humanize returns the rewritten answer, or the original unchanged if
// the model call fails or produces nothing.
func (h *Humanizer) Humanize(ctx context.Context, answer string) string {
	prompt := fmt.Sprintf(humanizerPromptTemplate, answer)

	rewritten, _, err := h.llm.Generate(ctx, []llms.Message{llms.UserMessage(prompt)})
	if err != nil {
		slog.Warn("humanizer model call failed, keeping raw answer", "error", err)
		return answer
	}
	if rewritten == "" {
		return answer
	}
	return rewritten
}
