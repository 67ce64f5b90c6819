package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aurelian-io/chronicle/pkg/embedders"
	"github.com/aurelian-io/chronicle/pkg/vector"
)

const (
	// maxSearchTarget caps the deduplicated result count per call.
	maxSearchTarget = 20
	// fetchMultiplier bounds the expanding fetch loop at 8x target.
	fetchMultiplier = 8

	defaultSearchLimit = 5
)

type searchLimitKey struct{}

// WithSearchLimit sets the default result budget for search_memory
// calls made under ctx. The retry orchestrator widens it per attempt.
func WithSearchLimit(ctx context.Context, limit int) context.Context {
	return context.WithValue(ctx, searchLimitKey{}, limit)
}

// SearchLimitFrom reads the budget back, falling back to the default
// when none was set.
func SearchLimitFrom(ctx context.Context) int {
	if limit, ok := ctx.Value(searchLimitKey{}).(int); ok && limit > 0 {
		return limit
	}
	return defaultSearchLimit
}

// SearchMemoryTool is the only tool that returns story text. It embeds
// the query, searches the vector store, deduplicates chunks belonging
// to the same story event, and falls back to semantic augmentation
// when a character filter yields nothing.
type SearchMemoryTool struct {
	embedder embedders.Embedder
	store    vector.Provider
	resolver Aliaser
}

func NewSearchMemoryTool(embedder embedders.Embedder, store vector.Provider, resolver Aliaser) *SearchMemoryTool {
	return &SearchMemoryTool{embedder: embedder, store: store, resolver: resolver}
}

func (t *SearchMemoryTool) GetName() string {
	return "search_memory"
}

func (t *SearchMemoryTool) GetDescription() string {
	return "Search story text for dialogue, scenes and event descriptions"
}

func (t *SearchMemoryTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name: t.GetName(),
		Description: "Search the story corpus for original text: dialogue, scenes, event descriptions. " +
			"This is the ONLY tool that returns story text; every answer quoting dialogue needs it. " +
			"Use sort_by=\"time\" when asking about event sequences. " +
			"The characters filter restricts results to chunks spoken by that character.",
		Parameters: []ToolParameter{
			{
				Name:        "query",
				Type:        "string",
				Description: "Natural-language description of the event, dialogue or scene to find",
				Required:    true,
			},
			{
				Name:        "characters",
				Type:        "string",
				Description: "Optional character name filter (aliases resolve automatically)",
				Required:    false,
			},
			{
				Name:        "sort_by",
				Type:        "string",
				Description: "Result ordering: \"relevance\" (default) or \"time\" (chapter and event order)",
				Required:    false,
				Default:     "relevance",
				Enum:        []string{"relevance", "time"},
			},
			{
				Name:        "limit",
				Type:        "number",
				Description: "Maximum number of results (default 5, max 20)",
				Required:    false,
				Default:     defaultSearchLimit,
			},
		},
	}
}

// dedupKey positions a chunk on the global narrative timeline. Chunks
// sharing a key are fragments of the same story event.
type dedupKey struct {
	taskID     string
	eventOrder int64
}

type memoryHit struct {
	key     dedupKey
	chapter int64
	score   float32
	text    string
}

func (t *SearchMemoryTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	query := stringArg(args, "query")
	if query == "" {
		return errorResult(t.GetName(), "query parameter is required", start),
			fmt.Errorf("query parameter is required")
	}

	limit := intArg(args, "limit", SearchLimitFrom(ctx))
	if limit <= 0 {
		return errorResult(t.GetName(), "limit must be a positive number", start),
			fmt.Errorf("limit must be positive, got %d", limit)
	}

	sortBy := stringArg(args, "sort_by")
	if sortBy == "" {
		sortBy = "relevance"
	}
	if sortBy != "relevance" && sortBy != "time" {
		return errorResult(t.GetName(),
			fmt.Sprintf("invalid sort_by '%s' (valid: relevance, time)", sortBy), start), nil
	}

	characters := stringArg(args, "characters")

	target := limit
	if target > maxSearchTarget {
		target = maxSearchTarget
	}

	// A chronological answer needs a wider candidate pool than the
	// final result count: the earliest events are rarely the most
	// relevant ones. Fetch double, sort, then trim to target.
	fetchTarget := target
	if sortBy == "time" {
		fetchTarget = target * 2
	}

	queryVector, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("embedding failed: %v", err), start), err
	}

	var filter map[string]interface{}
	canonical := ""
	if characters != "" {
		names := t.resolver.Expand(ctx, characters)
		canonical = names[0]
		if len(names) > 1 {
			filter = map[string]interface{}{"characters": names}
		} else {
			filter = map[string]interface{}{"characters": canonical}
		}
	}

	hits, err := t.expandingSearch(ctx, queryVector, fetchTarget, filter)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("vector search failed: %v", err), start), err
	}

	// The characters payload field lists the speaker, not everyone
	// mentioned; a filter on a character misses chunks about her.
	// Fold the canonical into the query and search unfiltered.
	fallbackUsed := false
	if len(hits) == 0 && filter != nil {
		augmented := canonical + " " + query
		augmentedVector, embedErr := t.embedder.Embed(ctx, augmented)
		if embedErr != nil {
			return errorResult(t.GetName(), fmt.Sprintf("embedding failed: %v", embedErr), start), embedErr
		}
		hits, err = t.expandingSearch(ctx, augmentedVector, fetchTarget, nil)
		if err != nil {
			return errorResult(t.GetName(), fmt.Sprintf("vector search failed: %v", err), start), err
		}
		fallbackUsed = true
	}

	if len(hits) == 0 {
		msg := fmt.Sprintf("No story content found for query '%s'", query)
		if characters != "" {
			msg += fmt.Sprintf(" (filtered by character: %s)", characters)
		}
		msg += "\n\nSuggestions:\n" +
			"- Try broader or different query terms.\n" +
			"- Remove the character filter to search all content.\n" +
			"- Use lookup_knowledge to verify the character name."
		return successResult(t.GetName(), msg, start), nil
	}

	if sortBy == "time" {
		sort.Slice(hits, func(i, j int) bool {
			if hits[i].chapter != hits[j].chapter {
				return hits[i].chapter < hits[j].chapter
			}
			return hits[i].key.eventOrder < hits[j].key.eventOrder
		})
	}

	if len(hits) > target {
		hits = hits[:target]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Story content: %q\n", query)
	if characters != "" {
		fmt.Fprintf(&b, "(filtered by character: %s)\n", characters)
	}
	if fallbackUsed {
		b.WriteString("(character filter yielded nothing; fell back to semantic search on the full corpus)\n")
	}
	fmt.Fprintf(&b, "(sorted by: %s)\n\n", sortBy)

	for i, hit := range hits {
		fmt.Fprintf(&b, "### Result %d\n", i+1)
		fmt.Fprintf(&b, "**Source**: chapter %d, task %s, event #%d\n",
			hit.chapter, hit.key.taskID, hit.key.eventOrder)
		if sortBy == "relevance" {
			fmt.Fprintf(&b, "**Relevance**: %.3f\n", hit.score)
		}
		fmt.Fprintf(&b, "\n%s\n\n---\n\n", hit.text)
	}

	return successResult(t.GetName(), b.String(), start), nil
}

// expandingSearch fetches progressively larger top-k windows until
// deduplication leaves at least target distinct story events, or the
// window exceeds fetchMultiplier times the target.
func (t *SearchMemoryTool) expandingSearch(ctx context.Context, queryVector []float32, target int, filter map[string]interface{}) ([]memoryHit, error) {
	fetchK := target
	maxFetch := fetchMultiplier * target

	var hits []memoryHit
	for {
		results, err := t.store.Search(ctx, queryVector, fetchK, filter)
		if err != nil {
			return nil, err
		}

		hits = dedupe(results)
		if len(hits) >= target {
			break
		}
		// A short page means the store has nothing more to offer.
		if len(results) < fetchK {
			break
		}

		fetchK *= 2
		if fetchK > maxFetch {
			slog.Debug("expanding search exhausted", "deduped", len(hits), "target", target)
			break
		}
	}

	return hits, nil
}

// dedupe collapses chunks of the same story event to the single
// highest-scoring one, preserving relevance order.
func dedupe(results []vector.Result) []memoryHit {
	best := make(map[dedupKey]int)
	var hits []memoryHit

	for _, result := range results {
		key := dedupKey{
			taskID:     metaString(result.Metadata, "task_id"),
			eventOrder: metaInt(result.Metadata, "event_order"),
		}

		text := result.Content
		if text == "" {
			text = metaString(result.Metadata, "text")
		}

		hit := memoryHit{
			key:     key,
			chapter: metaInt(result.Metadata, "chapter_number"),
			score:   result.Score,
			text:    text,
		}

		if idx, seen := best[key]; seen {
			if hit.score > hits[idx].score {
				hits[idx] = hit
			}
			continue
		}
		best[key] = len(hits)
		hits = append(hits, hit)
	}

	return hits
}

func metaString(metadata map[string]interface{}, key string) string {
	switch v := metadata[key].(type) {
	case string:
		return v
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}

func metaInt(metadata map[string]interface{}, key string) int64 {
	switch v := metadata[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}
