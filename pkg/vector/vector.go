package vector

import "context"

// Result is one scored hit from the vector store.
type Result struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]interface{}
}

// Provider abstracts the vector store behind similarity search.
// Filter values may be a single string (exact keyword match) or a
// []string (match any of the values).
type Provider interface {
	Search(ctx context.Context, queryVector []float32, limit int, filter map[string]interface{}) ([]Result, error)

	Close() error
}
