package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aurelian-io/chronicle/pkg/config"
	"github.com/aurelian-io/chronicle/pkg/grading"
	"github.com/aurelian-io/chronicle/pkg/reasoning"
	"github.com/aurelian-io/chronicle/pkg/tools"
	"github.com/aurelian-io/chronicle/pkg/trace"
)

// reasoner runs one Thought/Action/Observation loop to an answer.
type reasoner interface {
	Run(ctx context.Context, session *reasoning.Session, input string, events chan<- reasoning.Event) (*reasoning.Result, error)
}

// answerGrader judges an answer against the question and the tool
// transcript that produced it.
type answerGrader interface {
	Grade(ctx context.Context, question, answer string, toolCalls []reasoning.ToolCallRecord) *grading.Verdict
}

type queryRefiner interface {
	Refine(ctx context.Context, question, suggestion string) []string
}

type answerHumanizer interface {
	Humanize(ctx context.Context, answer string) string
}

// Outcome is the final result of a question, after up to MaxRetries
// reasoning attempts.
type Outcome struct {
	// Answer is the delivered answer, humanized when that pass is on.
	Answer string

	// RawAnswer keeps the cited form even when Answer was rewritten.
	RawAnswer string

	Passed   bool
	Attempts int
	Verdict  *grading.Verdict

	// TracePath is the trace file written for this run, if any.
	TracePath string
}

// attemptRecord is what one failed attempt contributes to the retry
// context of the next one.
type attemptRecord struct {
	number    int
	limit     int
	answer    string
	toolCalls []reasoning.ToolCallRecord
	verdict   *grading.Verdict
	queries   []string
}

// Orchestrator drives the attempt loop: reason, grade, refine, retry
// with wider search breadth and the failure history injected.
type Orchestrator struct {
	engine    reasoner
	grader    answerGrader
	refiner   queryRefiner
	humanizer answerHumanizer
	recorder  *trace.Recorder
	cfg       config.AgentConfig

	onEvent func(reasoning.Event)
}

type Option func(*Orchestrator)

// WithEventSink forwards live reasoning events (deltas, tool results,
// answers) to the caller, for console streaming.
func WithEventSink(sink func(reasoning.Event)) Option {
	return func(o *Orchestrator) {
		o.onEvent = sink
	}
}

func NewOrchestrator(engine reasoner, grader answerGrader, refiner queryRefiner, humanizer answerHumanizer, recorder *trace.Recorder, cfg config.AgentConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:    engine,
		grader:    grader,
		refiner:   refiner,
		humanizer: humanizer,
		recorder:  recorder,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Answer resolves one question. It returns an error only when the run
// is cancelled or every attempt aborts before producing an answer;
// grading failure after the attempt budget is a non-error Outcome with
// Passed=false.
func (o *Orchestrator) Answer(ctx context.Context, question string) (*Outcome, error) {
	o.recorder.StartTrace(question, map[string]any{
		"max_retries":       o.cfg.MaxRetries,
		"limit_progression": o.cfg.LimitProgression,
		"humanize":          o.cfg.Humanize,
	})

	session := reasoning.NewSession(uuid.NewString())
	var history []attemptRecord
	var lastAnswer string

	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		limit := o.cfg.LimitForAttempt(attempt)
		o.recorder.StartAttempt(attempt, limit)

		attemptCtx := tools.WithSearchLimit(ctx, limit)

		// Every attempt starts from a clean conversation: the failure
		// history travels in the prompt, not in session memory.
		session.Reset()

		input := question
		if attempt > 1 {
			input = buildRetryContext(question, history)
			o.recorder.LogContextInjection(input)
		}

		slog.Info("reasoning attempt started",
			"attempt", attempt, "limit", limit, "session_id", session.ID)

		result, err := o.runAttempt(attemptCtx, session, input)
		if err != nil {
			if ctx.Err() != nil {
				o.recorder.MarkCancelled()
				o.recorder.EndTrace(lastAnswer, false)
				return nil, ctx.Err()
			}

			// An aborted attempt is a failed attempt, not a failed run:
			// the remaining budget may still produce an answer.
			slog.Warn("reasoning attempt aborted", "attempt", attempt, "error", err)
			verdict := &grading.Verdict{FailReason: fmt.Sprintf("attempt aborted: %v", err)}
			o.recorder.LogGrading(verdict, 0)
			o.recorder.EndAttempt("")
			history = append(history, attemptRecord{number: attempt, limit: limit, verdict: verdict})
			continue
		}
		lastAnswer = result.Answer

		gradeStart := time.Now()
		verdict := o.grader.Grade(attemptCtx, question, result.Answer, result.ToolCalls)
		o.recorder.LogGrading(verdict, time.Since(gradeStart).Milliseconds())

		if verdict.Passed {
			raw := result.Answer
			final := raw
			if o.cfg.Humanize {
				final = o.humanizer.Humanize(attemptCtx, raw)
			}
			o.recorder.EndAttempt(final)
			path := o.recorder.EndTrace(final, true)

			slog.Info("answer accepted", "attempt", attempt, "score", verdict.Score)
			return &Outcome{
				Answer:    final,
				RawAnswer: raw,
				Passed:    true,
				Attempts:  attempt,
				Verdict:   verdict,
				TracePath: path,
			}, nil
		}

		slog.Info("answer rejected",
			"attempt", attempt, "score", verdict.Score, "reason", verdict.FailReason)

		record := attemptRecord{
			number:    attempt,
			limit:     limit,
			answer:    result.Answer,
			toolCalls: result.ToolCalls,
			verdict:   verdict,
		}
		if attempt < o.cfg.MaxRetries {
			refineStart := time.Now()
			record.queries = o.refiner.Refine(attemptCtx, question, verdict.Suggestion)
			o.recorder.LogRefiner(question, verdict.Suggestion, record.queries, time.Since(refineStart).Milliseconds())
		}
		o.recorder.EndAttempt(result.Answer)
		history = append(history, record)
	}

	path := o.recorder.EndTrace(lastAnswer, false)

	if lastAnswer == "" {
		return nil, fmt.Errorf("all %d attempts aborted without an answer", o.cfg.MaxRetries)
	}

	// Budget exhausted: deliver the best we have, marked as unverified.
	last := history[len(history)-1]
	slog.Warn("attempt budget exhausted, delivering last answer", "score", last.verdict.Score)
	return &Outcome{
		Answer:    lastAnswer,
		RawAnswer: lastAnswer,
		Passed:    false,
		Attempts:  o.cfg.MaxRetries,
		Verdict:   last.verdict,
		TracePath: path,
	}, nil
}

// runAttempt wires the engine's event stream into the trace recorder
// and the caller's sink, then waits for both the run and the drain.
func (o *Orchestrator) runAttempt(ctx context.Context, session *reasoning.Session, input string) (*reasoning.Result, error) {
	events := make(chan reasoning.Event, 16)
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		for event := range events {
			switch event.Type {
			case reasoning.EventReasoningDelta:
				o.recorder.LogReasoningStream(event.Delta)
			case reasoning.EventToolResult:
				o.recorder.LogToolCall(*event.ToolCall)
			}
			if o.onEvent != nil {
				o.onEvent(event)
			}
		}
	}()

	result, err := o.engine.Run(ctx, session, input, events)
	close(events)
	<-drained
	return result, err
}

const retryContextCallSummaryLimit = 120

// buildRetryContext renders the failure history as a Markdown document
// injected ahead of the question on attempts after the first.
func buildRetryContext(question string, history []attemptRecord) string {
	var b strings.Builder
	b.WriteString("## Previous Attempts\n\n")
	b.WriteString("Earlier attempts at this question did not pass review. Study them before acting.\n\n")

	for _, record := range history {
		fmt.Fprintf(&b, "### Attempt %d (failed", record.number)
		if record.verdict != nil && record.verdict.Score > 0 {
			fmt.Fprintf(&b, ", score %d/100", record.verdict.Score)
		}
		b.WriteString(")\n\n")

		if len(record.toolCalls) > 0 {
			b.WriteString("**Tools called:**\n")
			for _, call := range record.toolCalls {
				fmt.Fprintf(&b, "- %s(%s) → %s\n",
					call.Tool, compactArgs(call.Args), summarize(call.Output))
			}
			b.WriteString("\n")
		}

		if record.answer != "" {
			fmt.Fprintf(&b, "**Answer given:** %s\n\n", summarize(record.answer))
		}
		if record.verdict != nil {
			if record.verdict.FailReason != "" {
				fmt.Fprintf(&b, "**Why it failed:** %s\n\n", record.verdict.FailReason)
			}
			if record.verdict.Suggestion != "" {
				fmt.Fprintf(&b, "**Reviewer suggestion:** %s\n\n", record.verdict.Suggestion)
			}
		}
		if len(record.queries) > 0 {
			b.WriteString("**Suggested search queries:**\n")
			for _, query := range record.queries {
				fmt.Fprintf(&b, "- %s\n", query)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Instructions\n\n")
	b.WriteString("- Do NOT repeat tool calls identical to those above; their results are already summarized.\n")
	b.WriteString("- Use search_memory with the suggested queries to recover concrete story passages and direct quotes.\n")
	b.WriteString("- Cite chapter and task for every claim.\n\n")
	b.WriteString("## Question\n\n")
	b.WriteString(question)
	return b.String()
}

func compactArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for _, key := range sortedKeys(args) {
		parts = append(parts, fmt.Sprintf("%s=%v", key, args[key]))
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// summarize keeps the first line, trimmed to a sentence-sized preview.
func summarize(text string) string {
	line := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		line = text[:idx]
	}
	line = strings.TrimSpace(line)

	runes := []rune(line)
	if len(runes) > retryContextCallSummaryLimit {
		line = string(runes[:retryContextCallSummaryLimit]) + "..."
	}
	if line == "" {
		line = "(empty)"
	}
	return line
}
