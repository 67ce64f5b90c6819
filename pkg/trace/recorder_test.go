package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelian-io/chronicle/pkg/grading"
	"github.com/aurelian-io/chronicle/pkg/reasoning"
)

func loadTrace(t *testing.T, path string) *Trace {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var trace Trace
	require.NoError(t, json.Unmarshal(data, &trace))
	return &trace
}

func TestRecorderFullLifecycle(t *testing.T) {
	dir := t.TempDir()
	recorder := NewRecorder(dir, true)

	traceID := recorder.StartTrace("少女经历了什么？", map[string]any{"max_retries": 3})
	require.NotEmpty(t, traceID)

	recorder.StartAttempt(1, 3)
	recorder.LogReasoningStream("Thought: I should look up the girl first.\n")
	recorder.LogReasoningStream("Action: lookup_knowledge\n")
	recorder.LogToolCall(reasoning.ToolCallRecord{
		Tool:       "lookup_knowledge",
		Args:       map[string]any{"entity": "少女"},
		Output:     "[EXPERIENCES] → 献祭仪式",
		DurationMs: 12,
	})
	recorder.LogGrading(&grading.Verdict{Passed: false, Score: 40, FailReason: "score=40 below floor 70"}, 180)
	recorder.LogRefiner("少女经历了什么？", "need specifics", []string{"少女 献祭 第五章"}, 95)
	recorder.EndAttempt("她不知道。")

	recorder.StartAttempt(2, 5)
	recorder.LogContextInjection("## Previous Attempts\n...")
	recorder.LogReasoningStream("Thought: retry with memory search.\nAnswer: 她献出了身体。")
	recorder.LogGrading(&grading.Verdict{Passed: true, Score: 82}, 210)
	recorder.EndAttempt("她献出了身体。")

	path := recorder.EndTrace("她献出了身体。", true)
	require.NotEmpty(t, path)
	assert.Equal(t, filepath.Join(dir, traceID+".json"), path)

	trace := loadTrace(t, path)
	assert.Equal(t, "少女经历了什么？", trace.Query)
	assert.True(t, trace.Passed)
	assert.Equal(t, "她献出了身体。", trace.FinalResponse)
	require.Len(t, trace.Attempts, 2)

	first := trace.Attempts[0]
	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, 3, first.Limit)
	require.Len(t, first.ToolCalls, 1)
	assert.Equal(t, "lookup_knowledge", first.ToolCalls[0].Tool)
	assert.Equal(t, []string{"I should look up the girl first."}, first.Reasoning.Thoughts)
	assert.Equal(t, []string{"lookup_knowledge"}, first.Reasoning.Actions)
	require.NotNil(t, first.Grading)
	assert.Equal(t, 40, first.Grading.Score)
	assert.Equal(t, int64(180), first.Grading.DurationMs)
	require.NotNil(t, first.Refiner)
	assert.Equal(t, []string{"少女 献祭 第五章"}, first.Refiner.Queries)
	assert.Equal(t, int64(95), first.Refiner.DurationMs)

	second := trace.Attempts[1]
	assert.Equal(t, 5, second.Limit)
	assert.Contains(t, second.ContextInjection, "Previous Attempts")
	assert.Empty(t, second.Reasoning.Actions)
}

func TestTraceIDFormat(t *testing.T) {
	recorder := NewRecorder(t.TempDir(), true)
	traceID := recorder.StartTrace("问题", nil)
	assert.Regexp(t, regexp.MustCompile(`^\d{8}-\d{6}-[0-9a-f]{6}$`), traceID)
	recorder.EndTrace("", false)
}

func TestRecorderDisabled(t *testing.T) {
	recorder := NewRecorder(t.TempDir(), false)

	assert.Empty(t, recorder.StartTrace("问题", nil))
	recorder.StartAttempt(1, 3)
	recorder.LogReasoningStream("Thought: ignored\n")
	recorder.EndAttempt("answer")
	assert.Empty(t, recorder.EndTrace("answer", true))
}

func TestRecorderHooksOutsideAttempt(t *testing.T) {
	recorder := NewRecorder(t.TempDir(), true)
	recorder.StartTrace("问题", nil)

	// No open attempt: these must be silently ignored.
	recorder.LogToolCall(reasoning.ToolCallRecord{Tool: "stray"})
	recorder.LogReasoningStream("stray delta")
	recorder.LogGrading(&grading.Verdict{}, 0)

	path := recorder.EndTrace("", false)
	trace := loadTrace(t, path)
	assert.Empty(t, trace.Attempts)
}

func TestRecorderAbortedAttemptIsKept(t *testing.T) {
	recorder := NewRecorder(t.TempDir(), true)
	recorder.StartTrace("问题", nil)
	recorder.StartAttempt(1, 3)
	recorder.LogReasoningStream("Thought: partial work before the abort\n")
	recorder.MarkCancelled()

	path := recorder.EndTrace("", false)
	trace := loadTrace(t, path)
	assert.True(t, trace.Cancelled)
	require.Len(t, trace.Attempts, 1)
	assert.True(t, trace.Attempts[0].Cancelled)
	assert.Equal(t, []string{"partial work before the abort"}, trace.Attempts[0].Reasoning.Thoughts)
}

func TestParseReasoningStreamDedupesAdjacentActions(t *testing.T) {
	capture := ReasoningCapture{RawStream: "Thought: first\n" +
		"Action: search_memory\n" +
		"Action: search_memory\n" +
		"Thought: second\n" +
		"Action: lookup_knowledge\n" +
		"Action: search_memory\n"}

	parseReasoningStream(&capture)
	assert.Equal(t, []string{"first", "second"}, capture.Thoughts)
	assert.Equal(t, []string{"search_memory", "lookup_knowledge", "search_memory"}, capture.Actions)
}

func TestToolOutputTruncatedInTrace(t *testing.T) {
	recorder := NewRecorder(t.TempDir(), true)
	recorder.StartTrace("问题", nil)
	recorder.StartAttempt(1, 3)

	long := make([]rune, 1500)
	for i := range long {
		long[i] = '长'
	}
	recorder.LogToolCall(reasoning.ToolCallRecord{Tool: "search_memory", Output: string(long)})
	recorder.EndAttempt("answer")

	path := recorder.EndTrace("answer", true)
	trace := loadTrace(t, path)
	require.Len(t, trace.Attempts[0].ToolCalls, 1)
	output := []rune(trace.Attempts[0].ToolCalls[0].Output)
	assert.Len(t, output, toolOutputCap+3)
}

func TestToolCallResultsSample(t *testing.T) {
	recorder := NewRecorder(t.TempDir(), true)
	recorder.StartTrace("问题", nil)
	recorder.StartAttempt(1, 3)

	var output strings.Builder
	output.WriteString("## Story content: \"对话\"\n(sorted by: relevance)\n\n")
	for i := 1; i <= 7; i++ {
		fmt.Fprintf(&output, "### Result %d\n**Source**: chapter %d, task T%d, event #%d\n\n片段%d\n\n---\n\n", i, i, i, i*10, i)
	}
	recorder.LogToolCall(reasoning.ToolCallRecord{Tool: "search_memory", Output: output.String()})
	recorder.LogToolCall(reasoning.ToolCallRecord{Tool: "lookup_knowledge", Output: "少女 [EXPERIENCES] 献祭仪式"})
	recorder.EndAttempt("answer")

	path := recorder.EndTrace("answer", true)
	trace := loadTrace(t, path)
	require.Len(t, trace.Attempts[0].ToolCalls, 2)

	samples := trace.Attempts[0].ToolCalls[0].ResultsSample
	require.Len(t, samples, 5)
	assert.Contains(t, samples[0], "chapter 1, task T1, event #10")
	assert.Contains(t, samples[0], "片段1")
	assert.Contains(t, samples[4], "chapter 5")

	// Non-search output has no result sections to sample.
	assert.Empty(t, trace.Attempts[0].ToolCalls[1].ResultsSample)
}

func TestRecorderSurvivesUnwritableDir(t *testing.T) {
	recorder := NewRecorder("/proc/no-such-place/traces", true)
	recorder.StartTrace("问题", nil)
	recorder.StartAttempt(1, 3)
	recorder.EndAttempt("answer")

	// The write fails, but the recorder reports it and moves on.
	assert.Empty(t, recorder.EndTrace("answer", false))
}
