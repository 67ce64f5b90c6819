package grading

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefine(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		"```json\n[\"努昂诺塔 少女 相遇\", \"少女 月灵 起源\"]\n```",
	}}
	refiner := NewRefiner(llm)

	queries := refiner.Refine(context.Background(), "努昂诺塔和少女是什么关系？", "需要具体事件")
	assert.Equal(t, []string{"努昂诺塔 少女 相遇", "少女 月灵 起源"}, queries)
}

func TestRefineCapsAtThree(t *testing.T) {
	llm := &fakeLLM{responses: []string{`["a", "b", "c", "d", "e"]`}}
	refiner := NewRefiner(llm)

	queries := refiner.Refine(context.Background(), "问题", "")
	assert.Len(t, queries, 3)
}

func TestRefineFallbackOnModelFailure(t *testing.T) {
	refiner := NewRefiner(&fakeLLM{err: fmt.Errorf("timeout")})

	queries := refiner.Refine(context.Background(), "玛薇卡为什么要举办试炼？", "")
	require.NotEmpty(t, queries)
	assert.Equal(t, "玛薇卡为什么要举办试炼？", queries[0])
	// The heuristic strips question particles into a keyword string.
	require.Len(t, queries, 2)
	assert.NotContains(t, queries[1], "？")
	assert.Contains(t, queries[1], "玛薇卡")
}

func TestRefineFallbackOnMalformedOutput(t *testing.T) {
	llm := &fakeLLM{responses: []string{"here are some ideas, no JSON though"}}
	refiner := NewRefiner(llm)

	queries := refiner.Refine(context.Background(), "少女经历了什么？", "")
	require.NotEmpty(t, queries)
	assert.Equal(t, "少女经历了什么？", queries[0])
}

func TestHumanize(t *testing.T) {
	llm := &fakeLLM{responses: []string{"她把身体献给了封印，化作月光守护大家。"}}
	humanizer := NewHumanizer(llm)

	out := humanizer.Humanize(context.Background(), "她献出身体（第5章，任务T500），化作月光（第5章，任务T501）。")
	assert.Equal(t, "她把身体献给了封印，化作月光守护大家。", out)
}

func TestHumanizeKeepsOriginalOnFailure(t *testing.T) {
	humanizer := NewHumanizer(&fakeLLM{err: fmt.Errorf("quota")})

	original := "原始答案（第5章）"
	assert.Equal(t, original, humanizer.Humanize(context.Background(), original))
}
