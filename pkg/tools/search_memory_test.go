package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelian-io/chronicle/pkg/vector"
)

type fakeEmbedder struct {
	calls []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls = append(f.calls, text)
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) GetDimension() int    { return 3 }
func (f *fakeEmbedder) GetModelName() string { return "test-embedder" }
func (f *fakeEmbedder) Close() error         { return nil }

type fakeVector struct {
	// filtered results returned when a filter is present, unfiltered
	// otherwise. limits records the requested top-k sizes.
	filtered   []vector.Result
	unfiltered []vector.Result
	limits     []int
}

func (f *fakeVector) Search(_ context.Context, _ []float32, limit int, filter map[string]interface{}) ([]vector.Result, error) {
	f.limits = append(f.limits, limit)
	source := f.unfiltered
	if filter != nil {
		source = f.filtered
	}
	if limit > len(source) {
		limit = len(source)
	}
	return source[:limit], nil
}

func (f *fakeVector) Close() error { return nil }

func chunk(taskID string, eventOrder, chapter int64, score float32, text string) vector.Result {
	return vector.Result{
		ID:      taskID,
		Content: text,
		Score:   score,
		Metadata: map[string]interface{}{
			"task_id":        taskID,
			"event_order":    eventOrder,
			"chapter_number": chapter,
		},
	}
}

func TestSearchMemoryDedup(t *testing.T) {
	store := &fakeVector{
		unfiltered: []vector.Result{
			chunk("T1", 10, 1, 0.95, "片段甲"),
			chunk("T1", 10, 1, 0.90, "片段甲重复"),
			chunk("T2", 20, 2, 0.85, "片段乙"),
			chunk("T3", 30, 3, 0.80, "片段丙"),
		},
	}
	tool := NewSearchMemoryTool(&fakeEmbedder{}, store, &fakeAliaser{})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "少女的对话",
		"limit": 3,
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	// The lower-scored duplicate of (T1, 10) must not appear.
	assert.Contains(t, result.Content, "片段甲")
	assert.NotContains(t, result.Content, "片段甲重复")
	assert.Contains(t, result.Content, "task T1, event #10")
	assert.Contains(t, result.Content, "片段乙")
	assert.Contains(t, result.Content, "片段丙")
}

func TestSearchMemoryExpandingFetch(t *testing.T) {
	// Heavy duplication: fetching target=3 yields only 2 distinct
	// events, so the loop must widen the window.
	store := &fakeVector{
		unfiltered: []vector.Result{
			chunk("T1", 10, 1, 0.95, "a"),
			chunk("T1", 10, 1, 0.94, "b"),
			chunk("T2", 20, 1, 0.93, "c"),
			chunk("T2", 20, 1, 0.92, "d"),
			chunk("T2", 20, 1, 0.91, "e"),
			chunk("T3", 30, 2, 0.90, "f"),
		},
	}
	tool := NewSearchMemoryTool(&fakeEmbedder{}, store, &fakeAliaser{})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "对话",
		"limit": 3,
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	require.GreaterOrEqual(t, len(store.limits), 2)
	assert.Equal(t, 3, store.limits[0])
	assert.Equal(t, 6, store.limits[1])
	assert.Contains(t, result.Content, "task T3")
}

func TestSearchMemoryCharacterFallback(t *testing.T) {
	store := &fakeVector{
		filtered: nil, // speaker filter misses chunks about the character
		unfiltered: []vector.Result{
			chunk("T5", 50, 4, 0.88, "关于少女的叙述"),
		},
	}
	embedder := &fakeEmbedder{}
	resolver := &fakeAliaser{
		canonical: map[string]string{"少女": "少女"},
		expanded:  map[string][]string{"少女": {"少女"}},
	}
	tool := NewSearchMemoryTool(embedder, store, resolver)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"query":      "经历了什么",
		"characters": "少女",
		"limit":      3,
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Contains(t, result.Content, "fell back to semantic search")
	assert.Contains(t, result.Content, "关于少女的叙述")

	// The fallback re-embeds canonical + query.
	require.Len(t, embedder.calls, 2)
	assert.Equal(t, "经历了什么", embedder.calls[0])
	assert.Equal(t, "少女 经历了什么", embedder.calls[1])
}

func TestSearchMemoryTimeSort(t *testing.T) {
	store := &fakeVector{
		unfiltered: []vector.Result{
			chunk("T9", 90, 9, 0.99, "后期剧情"),
			chunk("T1", 10, 1, 0.80, "早期剧情"),
		},
	}
	tool := NewSearchMemoryTool(&fakeEmbedder{}, store, &fakeAliaser{})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"query":   "剧情",
		"sort_by": "time",
		"limit":   2,
	})
	require.NoError(t, err)

	idxEarly := strings.Index(result.Content, "早期剧情")
	idxLate := strings.Index(result.Content, "后期剧情")
	require.GreaterOrEqual(t, idxEarly, 0)
	require.GreaterOrEqual(t, idxLate, 0)
	assert.Less(t, idxEarly, idxLate)

	// Relevance scores are not shown in time order.
	assert.NotContains(t, result.Content, "**Relevance**")
}

func TestSearchMemoryTimeSortWidensCandidateWindow(t *testing.T) {
	// The chronologically-earliest event ranks last by relevance. A
	// window equal to the limit would never retrieve it; the doubled
	// window does, and the trim after sorting keeps it.
	store := &fakeVector{
		unfiltered: []vector.Result{
			chunk("T5", 50, 5, 0.99, "第五章剧情"),
			chunk("T6", 60, 6, 0.98, "第六章剧情"),
			chunk("T7", 70, 7, 0.97, "第七章剧情"),
			chunk("T1", 10, 1, 0.60, "第一章剧情"),
		},
	}
	tool := NewSearchMemoryTool(&fakeEmbedder{}, store, &fakeAliaser{})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"query":   "剧情",
		"sort_by": "time",
		"limit":   3,
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, []int{6}, store.limits)
	assert.Contains(t, result.Content, "第一章剧情")
	assert.Contains(t, result.Content, "第五章剧情")
	assert.Contains(t, result.Content, "第六章剧情")
	assert.NotContains(t, result.Content, "第七章剧情")
	assert.Less(t,
		strings.Index(result.Content, "第一章剧情"),
		strings.Index(result.Content, "第五章剧情"))
}

func TestSearchMemoryLimitZeroRejected(t *testing.T) {
	tool := NewSearchMemoryTool(&fakeEmbedder{}, &fakeVector{}, &fakeAliaser{})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "对话",
		"limit": 0,
	})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "limit must be a positive number")
}

func TestSearchMemoryContextLimit(t *testing.T) {
	store := &fakeVector{
		unfiltered: []vector.Result{
			chunk("T1", 10, 1, 0.9, "a"),
			chunk("T2", 20, 1, 0.8, "b"),
			chunk("T3", 30, 1, 0.7, "c"),
		},
	}
	tool := NewSearchMemoryTool(&fakeEmbedder{}, store, &fakeAliaser{})

	ctx := WithSearchLimit(context.Background(), 2)
	result, err := tool.Execute(ctx, map[string]interface{}{"query": "对话"})
	require.NoError(t, err)

	assert.Contains(t, result.Content, "### Result 1")
	assert.Contains(t, result.Content, "### Result 2")
	assert.NotContains(t, result.Content, "### Result 3")
}

func TestSearchMemoryMatchAnyFilter(t *testing.T) {
	var capturedFilter map[string]interface{}
	store := &captureVector{
		results: []vector.Result{chunk("T1", 10, 1, 0.9, "a")},
		capture: func(filter map[string]interface{}) { capturedFilter = filter },
	}
	resolver := &fakeAliaser{
		expanded: map[string][]string{"火神": {"玛薇卡", "火神", "太阳之女"}},
	}
	tool := NewSearchMemoryTool(&fakeEmbedder{}, store, resolver)

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"query":      "战斗",
		"characters": "火神",
		"limit":      1,
	})
	require.NoError(t, err)

	require.NotNil(t, capturedFilter)
	assert.Equal(t, []string{"玛薇卡", "火神", "太阳之女"}, capturedFilter["characters"])
}

type captureVector struct {
	results []vector.Result
	capture func(filter map[string]interface{})
}

func (c *captureVector) Search(_ context.Context, _ []float32, limit int, filter map[string]interface{}) ([]vector.Result, error) {
	c.capture(filter)
	if limit > len(c.results) {
		limit = len(c.results)
	}
	return c.results[:limit], nil
}

func (c *captureVector) Close() error { return nil }
