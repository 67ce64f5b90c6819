package trace

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aurelian-io/chronicle/pkg/grading"
	"github.com/aurelian-io/chronicle/pkg/reasoning"
)

// Trace is the complete structured record of one query's execution,
// serialized to a JSON file for offline analysis.
type Trace struct {
	TraceID         string         `json:"trace_id"`
	Timestamp       string         `json:"timestamp"`
	Query           string         `json:"query"`
	Config          map[string]any `json:"config"`
	Attempts        []*Attempt     `json:"attempts"`
	FinalResponse   string         `json:"final_response"`
	Passed          bool           `json:"passed"`
	Cancelled       bool           `json:"cancelled,omitempty"`
	TotalDurationMs int64          `json:"total_duration_ms"`
	EndTimestamp    string         `json:"end_timestamp,omitempty"`
}

// Attempt is one reasoning-and-grading pass within a trace.
type Attempt struct {
	Attempt          int              `json:"attempt"`
	Limit            int              `json:"limit"`
	ContextInjection string           `json:"context_injection,omitempty"`
	ToolCalls        []ToolCall       `json:"tool_calls"`
	Reasoning        ReasoningCapture `json:"reasoning"`
	Response         string           `json:"response"`
	Grading          *GradingRecord   `json:"grading,omitempty"`
	Refiner          *RefinerRecord   `json:"refiner,omitempty"`
	StartTime        string           `json:"start_time"`
	EndTime          string           `json:"end_time,omitempty"`
	Cancelled        bool             `json:"cancelled,omitempty"`
}

// GradingRecord is the verdict plus how long the grading call took.
type GradingRecord struct {
	*grading.Verdict
	DurationMs int64 `json:"duration_ms"`
}

type ToolCall struct {
	Tool       string         `json:"tool"`
	Input      map[string]any `json:"input"`
	Output     string         `json:"output"`
	DurationMs int64          `json:"duration_ms"`
	Timestamp  string         `json:"timestamp"`

	// ResultsSample keeps the first few result sections of a search
	// output, so individual hits stay readable after Output is capped.
	ResultsSample []string `json:"results_sample,omitempty"`
}

// ReasoningCapture holds the raw model stream plus the structured
// thought/action lists parsed from it when the attempt closes.
type ReasoningCapture struct {
	RawStream    string   `json:"raw_stream"`
	Thoughts     []string `json:"thoughts"`
	Actions      []string `json:"actions"`
	Observations []string `json:"observations"`
}

type RefinerRecord struct {
	Question   string   `json:"question"`
	Suggestion string   `json:"suggestion"`
	Queries    []string `json:"queries"`
	DurationMs int64    `json:"duration_ms"`
}

const (
	toolOutputCap   = 1000
	observationCap  = 500
	resultSampleMax = 5
	resultSampleCap = 200
)

// Recorder is a passive sink with lifecycle hooks. It never fails the
// pipeline: all errors are logged and swallowed, and it tolerates
// hooks arriving outside an open trace or attempt.
type Recorder struct {
	dir     string
	enabled bool

	mu      sync.Mutex
	trace   *Trace
	attempt *Attempt
	started time.Time
}

func NewRecorder(dir string, enabled bool) *Recorder {
	return &Recorder{dir: dir, enabled: enabled}
}

// StartTrace opens a new trace and returns its id, formatted as
// timestamp plus a 6-hex digest of the query.
func (r *Recorder) StartTrace(query string, config map[string]any) string {
	if !r.enabled {
		return ""
	}

	now := time.Now()
	digest := fmt.Sprintf("%x", md5.Sum([]byte(query)))[:6]
	traceID := fmt.Sprintf("%s-%s", now.Format("20060102-150405"), digest)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = now
	r.trace = &Trace{
		TraceID:   traceID,
		Timestamp: now.Format(time.RFC3339),
		Query:     query,
		Config:    config,
		Attempts:  []*Attempt{},
	}
	return traceID
}

func (r *Recorder) StartAttempt(attempt, limit int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trace == nil {
		return
	}
	r.attempt = &Attempt{
		Attempt:   attempt,
		Limit:     limit,
		ToolCalls: []ToolCall{},
		StartTime: time.Now().Format(time.RFC3339),
	}
}

// LogContextInjection records the structured history document injected
// ahead of the user question on retry attempts.
func (r *Recorder) LogContextInjection(context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt == nil {
		return
	}
	r.attempt.ContextInjection = context
}

func (r *Recorder) LogToolCall(record reasoning.ToolCallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt == nil {
		return
	}
	r.attempt.ToolCalls = append(r.attempt.ToolCalls, ToolCall{
		Tool:       record.Tool,
		Input:      record.Args,
		Output:     capRunes(record.Output, toolOutputCap),
		DurationMs: record.DurationMs,
		Timestamp:  time.Now().Format(time.RFC3339),

		// Sample from the uncapped output: the later sections are
		// exactly the ones the Output cap cuts off.
		ResultsSample: sampleResults(record.Output),
	})
}

func (r *Recorder) LogReasoningStream(delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt == nil {
		return
	}
	r.attempt.Reasoning.RawStream += delta
}

func (r *Recorder) LogGrading(verdict *grading.Verdict, durationMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt == nil {
		return
	}
	r.attempt.Grading = &GradingRecord{Verdict: verdict, DurationMs: durationMs}
}

func (r *Recorder) LogRefiner(question, suggestion string, queries []string, durationMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt == nil {
		return
	}
	r.attempt.Refiner = &RefinerRecord{
		Question:   question,
		Suggestion: suggestion,
		Queries:    queries,
		DurationMs: durationMs,
	}
}

// EndAttempt closes the current attempt, post-parsing the raw
// reasoning stream into structured thought/action lists.
func (r *Recorder) EndAttempt(response string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt == nil || r.trace == nil {
		return
	}

	r.attempt.Response = response
	r.attempt.EndTime = time.Now().Format(time.RFC3339)
	parseReasoningStream(&r.attempt.Reasoning)
	for _, call := range r.attempt.ToolCalls {
		r.attempt.Reasoning.Observations = append(r.attempt.Reasoning.Observations,
			capRunes(call.Output, observationCap))
	}

	r.trace.Attempts = append(r.trace.Attempts, r.attempt)
	r.attempt = nil
}

// MarkCancelled flags the in-flight attempt (if any) and the trace as
// cancelled.
func (r *Recorder) MarkCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trace != nil {
		r.trace.Cancelled = true
	}
	if r.attempt != nil {
		r.attempt.Cancelled = true
	}
}

// EndTrace closes any open attempt, serializes the trace and returns
// the file path. The file is written even after aborts.
func (r *Recorder) EndTrace(finalResponse string, passed bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trace == nil {
		return ""
	}

	// An attempt left open by an abort still belongs in the record.
	if r.attempt != nil {
		r.attempt.EndTime = time.Now().Format(time.RFC3339)
		parseReasoningStream(&r.attempt.Reasoning)
		r.trace.Attempts = append(r.trace.Attempts, r.attempt)
		r.attempt = nil
	}

	r.trace.FinalResponse = finalResponse
	r.trace.Passed = passed
	r.trace.TotalDurationMs = time.Since(r.started).Milliseconds()
	r.trace.EndTimestamp = time.Now().Format(time.RFC3339)

	path := r.write(r.trace)
	r.trace = nil
	return path
}

func (r *Recorder) write(trace *Trace) string {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		slog.Warn("trace directory creation failed", "dir", r.dir, "error", err)
		return ""
	}

	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		slog.Warn("trace serialization failed", "trace_id", trace.TraceID, "error", err)
		return ""
	}

	path := filepath.Join(r.dir, trace.TraceID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Warn("trace write failed", "path", path, "error", err)
		return ""
	}

	slog.Debug("trace saved", "path", path, "attempts", len(trace.Attempts))
	return path
}

var (
	streamThoughtRe = regexp.MustCompile(`(?m)^\s*Thought:\s*(.+)$`)
	streamActionRe  = regexp.MustCompile(`(?m)^\s*Action:\s*(\S+)`)

	resultSectionRe = regexp.MustCompile(`(?m)^### Result \d+$`)
)

// sampleResults extracts up to resultSampleMax result sections from a
// search tool's Markdown output. Non-search outputs have no sections
// and yield nil.
func sampleResults(output string) []string {
	locs := resultSectionRe.FindAllStringIndex(output, -1)
	if len(locs) == 0 {
		return nil
	}

	var samples []string
	for i, loc := range locs {
		if i == resultSampleMax {
			break
		}
		end := len(output)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		section := strings.TrimSpace(output[loc[1]:end])
		samples = append(samples, capRunes(section, resultSampleCap))
	}
	return samples
}

// parseReasoningStream extracts thought and action lines from the raw
// stream. Adjacent identical actions collapse to one: models sometimes
// echo an Action line before the observation arrives.
func parseReasoningStream(capture *ReasoningCapture) {
	for _, m := range streamThoughtRe.FindAllStringSubmatch(capture.RawStream, -1) {
		capture.Thoughts = append(capture.Thoughts, strings.TrimSpace(m[1]))
	}

	for _, m := range streamActionRe.FindAllStringSubmatch(capture.RawStream, -1) {
		action := strings.TrimSpace(m[1])
		if n := len(capture.Actions); n > 0 && capture.Actions[n-1] == action {
			continue
		}
		capture.Actions = append(capture.Actions, action)
	}
}

func capRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
