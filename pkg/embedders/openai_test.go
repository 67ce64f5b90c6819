package embedders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aurelian-io/chronicle/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbedderEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"纳西妲是谁"}, req.Input)

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2, 0.3}, "index": 0},
			},
			"model": req.Model,
		})
	}))
	defer server.Close()

	cfg := &config.EmbedderProviderConfig{
		Type:      "openai",
		Model:     "BAAI/bge-base-zh-v1.5",
		Host:      server.URL,
		Dimension: 3,
	}
	cfg.SetDefaults()
	cfg.Host = server.URL
	cfg.Dimension = 3

	embedder, err := NewOpenAIEmbedderFromConfig(cfg)
	require.NoError(t, err)

	vec, err := embedder.Embed(context.Background(), "纳西妲是谁")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOpenAIEmbedderDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2}, "index": 0},
			},
		})
	}))
	defer server.Close()

	cfg := &config.EmbedderProviderConfig{Type: "openai", Host: server.URL, Dimension: 768}
	cfg.SetDefaults()
	cfg.Host = server.URL

	embedder, err := NewOpenAIEmbedderFromConfig(cfg)
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestNewFromConfigUnsupportedType(t *testing.T) {
	_, err := NewFromConfig(&config.EmbedderProviderConfig{Type: "cohere"})
	require.Error(t, err)
}
