package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aurelian-io/chronicle/pkg/config"
	"github.com/aurelian-io/chronicle/pkg/llms"
	"github.com/aurelian-io/chronicle/pkg/reasoning"
)

const graderPromptTemplate = `You are an answer quality evaluator for a story question-answering system.
Judge whether the answer below adequately addresses the user's question, based on the
tool call transcript. The corpus and most answers are in Chinese.

## Question
%s

## Answer
%s

## Tool call transcript
%s

## Question type
Classify the question first:
- "relational": what is the relationship between X and Y, how does X know Y
- "factual": who is X, what is X's title
- "journey": what did X go through, how did X develop
- "detail": what did X say, describe a specific scene

## Rubric
Score four axes, each 0-25:

1. tool_usage (0-25): did the agent verify entities and facts with appropriate tools?
   25 = thorough verification; 15 = tools used but incomplete; 6 = a single call; 0 = none.
2. completeness (0-25): does the answer cover every aspect of the question?
   25 = all aspects; 15 = main aspects, details missing; 6 = partial; 0 = off-topic or refusal.
3. citation (0-25): are sources cited?
   25 = explicit chapter/task references; 15 = vague sourcing; 6 = implied only; 0 = none.
4. depth (0-25): does the answer quote concrete dialogue and events rather than summarize?
   For relational questions: an answer that only states a relation type ("they are friends",
   "they interact") with no concrete event scores at most 6. Full depth describes what
   happened, in what situation, and how the relationship developed. Relational answers
   built only on find_connection without search_memory are usually shallow.

## Output
Return ONLY this JSON object, no other text:

{
    "question_type": "<relational|factual|journey|detail>",
    "scores": {
        "tool_usage": <0-25>,
        "completeness": <0-25>,
        "citation": <0-25>,
        "depth": <0-25>
    },
    "score": <0-100 total>,
    "reason": "<one sentence>",
    "suggestion": "<concrete improvement advice if not perfect>"
}`

const unknownCheckPrompt = `A question-answering agent produced the answer below. Some answers legitimately
discuss "unknown" things as narrative content; others simply conclude "I don't know".

## Question
%s

## Answer
%s

Is the CONCLUSION of this answer effectively "I don't know / it cannot be determined"?
An answer that quotes a character saying she doesn't know something, but then resolves
the question with evidence, is NOT an unknown conclusion.

Return ONLY this JSON object:
{"unknown_conclusion": <true|false>, "reason": "<one sentence>"}`

// Scores is the four-axis rubric breakdown, each 0-25.
type Scores struct {
	ToolUsage    int `json:"tool_usage"`
	Completeness int `json:"completeness"`
	Citation     int `json:"citation"`
	Depth        int `json:"depth"`
}

// Verdict is the grader's judgment of one answer. Grading is
// observational: it never rewrites the answer.
type Verdict struct {
	QuestionType string `json:"question_type"`
	Scores       Scores `json:"scores"`
	Score        int    `json:"score"`
	Reason       string `json:"reason"`
	Suggestion   string `json:"suggestion"`
	Passed       bool   `json:"passed"`
	FailReason   string `json:"fail_reason,omitempty"`
}

// Grader scores answers with a fast model and applies the hard
// quality floors. It degrades to a fail verdict on any model or parse
// failure; it never propagates errors into the retry loop.
type Grader struct {
	llm llms.Provider
	cfg config.GraderConfig
}

func NewGrader(llm llms.Provider, cfg config.GraderConfig) *Grader {
	return &Grader{llm: llm, cfg: cfg}
}

func (g *Grader) Grade(ctx context.Context, question, answer string, toolCalls []reasoning.ToolCallRecord) *Verdict {
	prompt := fmt.Sprintf(graderPromptTemplate, question, answer, FormatTranscript(toolCalls))

	response, _, err := g.llm.Generate(ctx, []llms.Message{llms.UserMessage(prompt)})
	if err != nil {
		slog.Warn("grader model call failed", "error", err)
		return defaultFail(fmt.Sprintf("grading failed: %v", err))
	}

	verdict, err := parseVerdict(response)
	if err != nil {
		slog.Warn("grader returned unparseable verdict", "error", err)
		return defaultFail("unparseable verdict")
	}

	g.applyFloors(verdict)

	if verdict.Passed && g.isUnknownConclusion(ctx, question, answer) {
		verdict.Passed = false
		verdict.FailReason = "answer concludes with 'unknown' despite passing scores"
		if verdict.Suggestion == "" {
			verdict.Suggestion = "search for later story content that resolves the question instead of stopping at the characters' own uncertainty"
		}
	}

	return verdict
}

func parseVerdict(response string) (*Verdict, error) {
	raw, err := llms.ExtractJSONObject(response)
	if err != nil {
		return nil, err
	}

	verdict := &Verdict{}
	if err := json.Unmarshal([]byte(raw), verdict); err != nil {
		return nil, err
	}

	if verdict.Score == 0 {
		verdict.Score = verdict.Scores.ToolUsage + verdict.Scores.Completeness +
			verdict.Scores.Citation + verdict.Scores.Depth
	}
	return verdict, nil
}

// applyFloors enforces the hard gates after parsing. Depth is the key
// one: low depth means the answer reads as a summary with no dialogue
// evidence, whatever the total says.
func (g *Grader) applyFloors(verdict *Verdict) {
	switch {
	case verdict.Scores.Depth < g.cfg.DepthFloor:
		verdict.Passed = false
		verdict.FailReason = fmt.Sprintf("depth=%d below floor %d", verdict.Scores.Depth, g.cfg.DepthFloor)
		if verdict.Suggestion == "" {
			verdict.Suggestion = "use search_memory to quote the concrete story content"
		}
	case verdict.Scores.Citation < g.cfg.CitationFloor:
		verdict.Passed = false
		verdict.FailReason = fmt.Sprintf("citation=%d below floor %d", verdict.Scores.Citation, g.cfg.CitationFloor)
	case verdict.Score < g.cfg.TotalFloor:
		verdict.Passed = false
		verdict.FailReason = fmt.Sprintf("score=%d below floor %d", verdict.Score, g.cfg.TotalFloor)
	default:
		verdict.Passed = true
		verdict.FailReason = ""
	}
}

// isUnknownConclusion runs the third model call distinguishing answers
// that mention unknowns from answers that conclude "I don't know".
// Errors err on the side of keeping the pass.
func (g *Grader) isUnknownConclusion(ctx context.Context, question, answer string) bool {
	prompt := fmt.Sprintf(unknownCheckPrompt, question, answer)

	response, _, err := g.llm.Generate(ctx, []llms.Message{llms.UserMessage(prompt)})
	if err != nil {
		slog.Debug("unknown-conclusion check failed", "error", err)
		return false
	}

	raw, err := llms.ExtractJSONObject(response)
	if err != nil {
		return false
	}

	var check struct {
		UnknownConclusion bool `json:"unknown_conclusion"`
	}
	if err := json.Unmarshal([]byte(raw), &check); err != nil {
		return false
	}
	return check.UnknownConclusion
}

func defaultFail(reason string) *Verdict {
	return &Verdict{
		QuestionType: "unknown",
		Passed:       false,
		FailReason:   reason,
		Reason:       reason,
		Suggestion:   "retry the attempt",
	}
}

// FormatTranscript renders tool calls for the grader prompt, one line
// per call with a truncated output.
func FormatTranscript(toolCalls []reasoning.ToolCallRecord) string {
	if len(toolCalls) == 0 {
		return "(no tools were called)"
	}

	var b strings.Builder
	for _, call := range toolCalls {
		args, _ := json.Marshal(call.Args)
		output := call.Output
		if runes := []rune(output); len(runes) > 200 {
			output = string(runes[:200]) + "..."
		}
		fmt.Fprintf(&b, "- %s(%s) → %s\n", call.Tool, args, output)
	}
	return b.String()
}
