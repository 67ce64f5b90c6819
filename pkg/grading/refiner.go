package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aurelian-io/chronicle/pkg/llms"
)

const refinerPromptTemplate = `You are a query decomposition expert. A vector search failed to surface enough
information for the question below. Decompose it into targeted follow-up search
queries. Queries should be in the language of the question (usually Chinese).

## Question
%s

## Why the previous attempt was insufficient
%s

## Task
Produce 2-3 distinct search queries. Each should:
1. target a different aspect of the question
2. use a different keyword combination
3. include likely aliases or related concepts
4. be short and precise, suited to vector search

## Examples
Question: "努昂诺塔和少女是什么关系？"
Output: ["努昂诺塔 少女 相遇 见面", "努昂诺塔 创造 诞生 灵魂", "少女 月灵 起源"]

Question: "玛薇卡为什么要举办试炼？"
Output: ["玛薇卡 试炼 目的 原因", "纳塔 竞技场 传统", "火神 选拔 勇士"]

## Output
Return ONLY a JSON array, no other text:
["query 1", "query 2", "query 3"]`

const maxRefinedQueries = 3

// Refiner decomposes a failing question into targeted vector search
// strings using the fast model. Output is advisory.
type Refiner struct {
	llm llms.Provider
}

func NewRefiner(llm llms.Provider) *Refiner {
	return &Refiner{llm: llm}
}

// Refine never fails: model or parse errors fall back to a keyword
// heuristic over the question itself.
func (r *Refiner) Refine(ctx context.Context, question, suggestion string) []string {
	if suggestion == "" {
		suggestion = "more detail is needed"
	}

	prompt := fmt.Sprintf(refinerPromptTemplate, question, suggestion)

	response, _, err := r.llm.Generate(ctx, []llms.Message{llms.UserMessage(prompt)})
	if err != nil {
		slog.Warn("refiner model call failed", "error", err)
		return fallbackQueries(question)
	}

	raw, err := llms.ExtractJSONArray(response)
	if err != nil {
		slog.Warn("refiner returned no JSON array", "error", err)
		return fallbackQueries(question)
	}

	var queries []string
	if err := json.Unmarshal([]byte(raw), &queries); err != nil || len(queries) == 0 {
		slog.Warn("refiner returned malformed array", "error", err)
		return fallbackQueries(question)
	}

	if len(queries) > maxRefinedQueries {
		queries = queries[:maxRefinedQueries]
	}
	return queries
}

// Question particles and connectives that carry no search signal.
var stopRunes = map[rune]bool{
	'是': true, '的': true, '和': true, '与': true, '吗': true,
	'呢': true, '了': true, '么': true, '什': true, '为': true,
	'怎': true, '如': true, '何': true, '？': true, '?': true,
}

// fallbackQueries strips question particles and returns the original
// plus the cleaned keyword string when they differ.
func fallbackQueries(question string) []string {
	var kept []rune
	for _, r := range question {
		if !stopRunes[r] {
			kept = append(kept, r)
		}
	}

	cleaned := strings.TrimSpace(string(kept))
	if cleaned == "" || cleaned == question {
		return []string{question}
	}
	return []string{question, cleaned}
}
