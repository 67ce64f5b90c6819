package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aurelian-io/chronicle/pkg/llms"
	"github.com/aurelian-io/chronicle/pkg/tools"
)

const (
	// observationBudget caps tool output fed back to the model.
	observationBudget = 2000
	// memoryObservationBudget is wider: story snippets are the whole
	// point of search_memory and must survive into the transcript.
	memoryObservationBudget = 6000

	defaultMaxIterations = 10
)

// EventType tags one entry of the streaming event channel.
type EventType string

const (
	EventReasoningDelta EventType = "reasoning_delta"
	EventToolResult     EventType = "tool_result"
	EventAnswer         EventType = "answer"
)

// Event is one increment of a reasoning run, consumed live by the
// trace recorder and any UI.
type Event struct {
	Type     EventType
	Delta    string
	ToolCall *ToolCallRecord
	Answer   string
}

// ToolCallRecord is one tool invocation with its observation, in
// invocation order. The grader reads these as the transcript.
type ToolCallRecord struct {
	Tool       string                 `json:"tool"`
	Args       map[string]interface{} `json:"args"`
	Output     string                 `json:"output"`
	DurationMs int64                  `json:"duration_ms"`
}

// Session holds the conversation context the engine persists across
// turns. The retry orchestrator resets it between attempts.
type Session struct {
	ID      string
	history []llms.Message
}

func NewSession(id string) *Session {
	return &Session{ID: id}
}

func (s *Session) Reset() {
	s.history = nil
}

// Result is the outcome of one reasoning run.
type Result struct {
	Answer    string
	ToolCalls []ToolCallRecord
	RawStream string
}

// Engine drives the Thought/Action/Observation loop over the
// reasoning model and the tool catalog.
type Engine struct {
	llm           llms.Provider
	registry      *tools.Registry
	maxIterations int
}

func NewEngine(llm llms.Provider, registry *tools.Registry, maxIterations int) *Engine {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &Engine{llm: llm, registry: registry, maxIterations: maxIterations}
}

// Run answers one user message. Events are emitted to the optional
// channel in emission order; the caller owns and drains it. The
// session history is extended with the exchange on success.
func (e *Engine) Run(ctx context.Context, session *Session, input string, events chan<- Event) (*Result, error) {
	systemPrompt := BuildSystemPrompt(e.registry.ListInfos())

	messages := []llms.Message{llms.SystemMessage(systemPrompt)}
	messages = append(messages, session.history...)
	messages = append(messages, llms.UserMessage(input))

	result := &Result{}
	var rawStream strings.Builder

	for iteration := 0; iteration < e.maxIterations; iteration++ {
		text, err := e.generateRound(ctx, messages, events)
		if err != nil {
			return nil, err
		}
		rawStream.WriteString(text)
		rawStream.WriteString("\n")

		step, err := ParseStep(text)
		if err != nil {
			// Malformed rounds go back as observations; the model
			// usually repairs its own format.
			slog.Debug("unparseable reasoning round", "error", err)
			messages = append(messages,
				llms.AssistantMessage(text),
				llms.UserMessage(fmt.Sprintf("Observation: could not parse your response (%v). Follow the Thought/Action/Action Input format exactly.", err)))
			continue
		}

		if step.IsAnswer() {
			result.Answer = step.Answer
			result.RawStream = rawStream.String()
			emit(events, Event{Type: EventAnswer, Answer: step.Answer})

			session.history = append(session.history,
				llms.UserMessage(input),
				llms.AssistantMessage(step.Answer))
			return result, nil
		}

		record := e.dispatch(ctx, step)
		result.ToolCalls = append(result.ToolCalls, record)
		emit(events, Event{Type: EventToolResult, ToolCall: &record})

		messages = append(messages,
			llms.AssistantMessage(text),
			llms.UserMessage("Observation: "+record.Output))
	}

	return nil, fmt.Errorf("no answer after %d reasoning iterations", e.maxIterations)
}

func (e *Engine) generateRound(ctx context.Context, messages []llms.Message, events chan<- Event) (string, error) {
	chunks, err := e.llm.GenerateStreaming(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("reasoning model call failed: %w", err)
	}

	var text strings.Builder
	for chunk := range chunks {
		switch chunk.Type {
		case "error":
			return "", fmt.Errorf("reasoning stream failed: %w", chunk.Error)
		case "text":
			text.WriteString(chunk.Text)
			emit(events, Event{Type: EventReasoningDelta, Delta: chunk.Text})
		}
	}

	return text.String(), nil
}

// dispatch executes one parsed Action. Tool failures become
// observations so the model can retry with different arguments; only
// the transport of the observation is infallible here.
func (e *Engine) dispatch(ctx context.Context, step *Step) ToolCallRecord {
	start := time.Now()
	record := ToolCallRecord{Tool: step.Action, Args: step.ActionInput}

	tool, exists := e.registry.Get(step.Action)
	if !exists {
		record.Output = fmt.Sprintf("tool %s does not exist; available tools: %s",
			step.Action, strings.Join(e.registry.Names(), ", "))
		record.DurationMs = time.Since(start).Milliseconds()
		return record
	}

	toolResult, err := tool.Execute(ctx, step.ActionInput)
	record.DurationMs = time.Since(start).Milliseconds()

	switch {
	case err != nil:
		record.Output = fmt.Sprintf("tool %s failed: %v", step.Action, err)
	case !toolResult.Success:
		record.Output = fmt.Sprintf("tool %s failed: %s", step.Action, toolResult.Error)
	default:
		record.Output = truncateObservation(step.Action, toolResult.Content)
	}
	return record
}

// truncateObservation trims only at the end of the text block, never
// mid-stream: evidence the model has already seen must stay intact.
func truncateObservation(toolName, content string) string {
	budget := observationBudget
	if toolName == "search_memory" {
		budget = memoryObservationBudget
	}

	runes := []rune(content)
	if len(runes) <= budget {
		return content
	}
	return string(runes[:budget]) + "\n...(output truncated)"
}

func emit(events chan<- Event, event Event) {
	if events != nil {
		events <- event
	}
}
