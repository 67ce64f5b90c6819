package graph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// EntityIndex is the part of the store the resolver needs. Store
// satisfies it; tests substitute a fake.
type EntityIndex interface {
	SearchFullText(ctx context.Context, name string) ([]FullTextHit, error)
	Aliases(ctx context.Context, canonical string) ([]string, error)
}

// Resolver maps surface names to canonical entity names. Resolution
// order: the curated static table, then the graph's full-text alias
// index, then the input unchanged. Resolve is idempotent: a canonical
// name resolves to itself.
type Resolver struct {
	index EntityIndex

	mu     sync.RWMutex
	static map[string]string
}

func NewResolver(index EntityIndex, static map[string]string) *Resolver {
	if static == nil {
		static = map[string]string{}
	}
	return &Resolver{index: index, static: static}
}

// NewResolverFromFile loads the static override table from a YAML file
// mapping surface name -> canonical. An empty path means no overrides.
func NewResolverFromFile(index EntityIndex, tablePath string) (*Resolver, error) {
	static := map[string]string{}

	if tablePath != "" {
		raw, err := os.ReadFile(tablePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read alias table %s: %w", tablePath, err)
		}
		if err := yaml.Unmarshal(raw, &static); err != nil {
			return nil, fmt.Errorf("failed to parse alias table %s: %w", tablePath, err)
		}
	}

	return NewResolver(index, static), nil
}

// ReloadTable atomically swaps the static override table.
func (r *Resolver) ReloadTable(static map[string]string) {
	if static == nil {
		static = map[string]string{}
	}
	r.mu.Lock()
	r.static = static
	r.mu.Unlock()
}

// Resolve maps a surface name to its canonical name. Unresolvable
// names pass through unchanged so callers always have something to
// query with.
func (r *Resolver) Resolve(ctx context.Context, name string) string {
	if name == "" {
		return name
	}

	r.mu.RLock()
	canonical, ok := r.static[name]
	r.mu.RUnlock()
	if ok {
		return canonical
	}

	hits, err := r.index.SearchFullText(ctx, name)
	if err != nil {
		// The index may not exist yet; passthrough keeps tools usable.
		slog.Debug("alias index lookup failed", "name", name, "error", err)
		return name
	}

	// Nodes with a populated alias list are curated seed entities.
	// Prefer them over speculatively extracted nodes of equal score.
	for _, hit := range hits {
		if len(hit.Aliases) > 0 {
			return hit.Name
		}
	}

	if len(hits) > 0 && hits[0].Score > 0 {
		return hits[0].Name
	}

	return name
}

// Expand returns every known name of the entity: the canonical plus
// all graph aliases and static-table entries pointing at it. Used to
// build match-any filters for the vector store.
func (r *Resolver) Expand(ctx context.Context, name string) []string {
	canonical := r.Resolve(ctx, name)

	seen := map[string]bool{canonical: true}
	names := []string{canonical}

	aliases, err := r.index.Aliases(ctx, canonical)
	if err != nil {
		slog.Debug("alias expansion failed", "name", canonical, "error", err)
	}
	for _, alias := range aliases {
		if !seen[alias] {
			seen[alias] = true
			names = append(names, alias)
		}
	}

	r.mu.RLock()
	var fromTable []string
	for surface, target := range r.static {
		if target == canonical && !seen[surface] {
			seen[surface] = true
			fromTable = append(fromTable, surface)
		}
	}
	r.mu.RUnlock()

	// Map iteration order is random; keep expansion deterministic.
	sort.Strings(fromTable)
	return append(names, fromTable...)
}
