package reasoning

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelian-io/chronicle/pkg/llms"
	"github.com/aurelian-io/chronicle/pkg/tools"
)

// scriptedLLM replays canned responses round by round.
type scriptedLLM struct {
	responses []string
	round     int
	prompts   [][]llms.Message
}

func (s *scriptedLLM) Generate(_ context.Context, messages []llms.Message) (string, int, error) {
	s.prompts = append(s.prompts, messages)
	if s.round >= len(s.responses) {
		return "", 0, fmt.Errorf("no scripted response for round %d", s.round)
	}
	text := s.responses[s.round]
	s.round++
	return text, 0, nil
}

func (s *scriptedLLM) GenerateStreaming(ctx context.Context, messages []llms.Message) (<-chan llms.StreamChunk, error) {
	text, _, err := s.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}
	chunks := make(chan llms.StreamChunk, 2)
	chunks <- llms.StreamChunk{Type: "text", Text: text}
	close(chunks)
	return chunks, nil
}

func (s *scriptedLLM) GetModelName() string    { return "scripted" }
func (s *scriptedLLM) GetTemperature() float64 { return 0 }
func (s *scriptedLLM) Close() error            { return nil }

// echoTool records its arguments and returns canned content.
type echoTool struct {
	name    string
	content string
	err     error
	calls   []map[string]interface{}
}

func (e *echoTool) GetName() string        { return e.name }
func (e *echoTool) GetDescription() string { return "test tool" }
func (e *echoTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{Name: e.name, Description: "test tool"}
}

func (e *echoTool) Execute(_ context.Context, args map[string]interface{}) (tools.ToolResult, error) {
	e.calls = append(e.calls, args)
	if e.err != nil {
		return tools.ToolResult{Success: false, Error: e.err.Error(), ToolName: e.name}, e.err
	}
	return tools.ToolResult{Success: true, Content: e.content, ToolName: e.name}, nil
}

func newTestRegistry(t *testing.T, testTools ...tools.Tool) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	for _, tool := range testTools {
		require.NoError(t, registry.RegisterTool(tool))
	}
	return registry
}

func TestEngineToolLoop(t *testing.T) {
	lookup := &echoTool{name: "lookup_knowledge", content: "[MEMBER_OF] → 花羽会"}
	llm := &scriptedLLM{responses: []string{
		"Thought: check the graph.\nAction: lookup_knowledge\nAction Input: {\"entity\": \"恰斯卡\"}",
		"Thought: enough evidence.\nAnswer: 恰斯卡隶属于花羽会。",
	}}
	engine := NewEngine(llm, newTestRegistry(t, lookup), 5)

	events := make(chan Event, 32)
	result, err := engine.Run(context.Background(), NewSession("s1"), "恰斯卡属于哪个组织？", events)
	close(events)
	require.NoError(t, err)

	assert.Equal(t, "恰斯卡隶属于花羽会。", result.Answer)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "lookup_knowledge", result.ToolCalls[0].Tool)
	assert.Equal(t, "[MEMBER_OF] → 花羽会", result.ToolCalls[0].Output)
	require.Len(t, lookup.calls, 1)
	assert.Equal(t, "恰斯卡", lookup.calls[0]["entity"])

	// The observation is fed back as a user message in round two.
	secondRound := llm.prompts[1]
	last := secondRound[len(secondRound)-1]
	assert.Equal(t, llms.RoleUser, last.Role)
	assert.Contains(t, last.Content, "Observation: [MEMBER_OF] → 花羽会")

	var types []EventType
	for event := range events {
		types = append(types, event.Type)
	}
	assert.Equal(t, []EventType{EventReasoningDelta, EventToolResult, EventReasoningDelta, EventAnswer}, types)
}

func TestEngineUnknownTool(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"Action: fetch_wiki\nAction Input: {\"page\": \"x\"}",
		"Answer: done",
	}}
	engine := NewEngine(llm, newTestRegistry(t, &echoTool{name: "search_memory"}), 5)

	result, err := engine.Run(context.Background(), NewSession("s1"), "q", nil)
	require.NoError(t, err)

	require.Len(t, result.ToolCalls, 1)
	assert.Contains(t, result.ToolCalls[0].Output, "does not exist")
	assert.Contains(t, result.ToolCalls[0].Output, "search_memory")
}

func TestEngineToolFailureBecomesObservation(t *testing.T) {
	failing := &echoTool{name: "lookup_knowledge", err: fmt.Errorf("connection refused")}
	llm := &scriptedLLM{responses: []string{
		"Action: lookup_knowledge\nAction Input: {\"entity\": \"x\"}",
		"Answer: 无法验证。",
	}}
	engine := NewEngine(llm, newTestRegistry(t, failing), 5)

	result, err := engine.Run(context.Background(), NewSession("s1"), "q", nil)
	require.NoError(t, err)
	assert.Contains(t, result.ToolCalls[0].Output, "tool lookup_knowledge failed")
}

func TestEngineMalformedRoundRecovers(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"Action: lookup_knowledge\nAction Input: {broken",
		"Answer: 第二轮修复。",
	}}
	engine := NewEngine(llm, newTestRegistry(t, &echoTool{name: "lookup_knowledge"}), 5)

	result, err := engine.Run(context.Background(), NewSession("s1"), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "第二轮修复。", result.Answer)
	assert.Empty(t, result.ToolCalls)
}

func TestEngineIterationBudget(t *testing.T) {
	responses := make([]string, 4)
	for i := range responses {
		responses[i] = "Action: lookup_knowledge\nAction Input: {\"entity\": \"x\"}"
	}
	llm := &scriptedLLM{responses: responses}
	engine := NewEngine(llm, newTestRegistry(t, &echoTool{name: "lookup_knowledge", content: "row"}), 3)

	_, err := engine.Run(context.Background(), NewSession("s1"), "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no answer after 3")
}

func TestEngineSessionHistoryAndReset(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"Answer: 第一答。",
		"Answer: 第二答。",
	}}
	engine := NewEngine(llm, newTestRegistry(t), 5)
	session := NewSession("s1")

	_, err := engine.Run(context.Background(), session, "第一问", nil)
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), session, "第二问", nil)
	require.NoError(t, err)

	// Round two carries the first exchange.
	secondPrompt := llm.prompts[1]
	var joined strings.Builder
	for _, m := range secondPrompt {
		joined.WriteString(m.Content)
		joined.WriteString("\n")
	}
	assert.Contains(t, joined.String(), "第一问")
	assert.Contains(t, joined.String(), "第一答。")

	session.Reset()
	assert.Empty(t, session.history)
}

func TestTruncateObservation(t *testing.T) {
	long := strings.Repeat("证", 7000)

	standard := truncateObservation("lookup_knowledge", long)
	assert.LessOrEqual(t, len([]rune(standard)), observationBudget+30)
	assert.True(t, strings.HasSuffix(standard, "...(output truncated)"))

	memory := truncateObservation("search_memory", long)
	assert.Greater(t, len([]rune(memory)), observationBudget)
	assert.LessOrEqual(t, len([]rune(memory)), memoryObservationBudget+30)

	short := truncateObservation("lookup_knowledge", "短文本")
	assert.Equal(t, "短文本", short)
}

func TestBuildSystemPromptListsTools(t *testing.T) {
	registry := newTestRegistry(t,
		&echoTool{name: "search_memory"},
		&echoTool{name: "lookup_knowledge"},
	)

	prompt := BuildSystemPrompt(registry.ListInfos())
	assert.Contains(t, prompt, "### lookup_knowledge")
	assert.Contains(t, prompt, "### search_memory")
	assert.Contains(t, prompt, "Thought:")
	assert.Contains(t, prompt, "Action Input:")
	// Catalog is sorted by name.
	assert.Less(t, strings.Index(prompt, "### lookup_knowledge"), strings.Index(prompt, "### search_memory"))
}
