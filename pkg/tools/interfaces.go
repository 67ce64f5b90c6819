package tools

import (
	"context"
	"time"

	"github.com/aurelian-io/chronicle/pkg/graph"
)

// ToolInfo describes a tool to the reasoning model.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
}

type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// ToolResult is the outcome of one invocation. Logical empties are
// successful results whose Content explains what was not found; Error
// is reserved for infrastructure faults and invalid arguments.
type ToolResult struct {
	Success       bool          `json:"success"`
	Content       string        `json:"content,omitempty"`
	Error         string        `json:"error,omitempty"`
	ToolName      string        `json:"tool_name"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
}

type Tool interface {
	GetInfo() ToolInfo

	Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error)

	GetName() string

	GetDescription() string
}

// GraphReader is the slice of the graph store the retrieval tools use.
type GraphReader interface {
	Neighbors(ctx context.Context, canonical, relation string, limit int) ([]graph.Edge, error)
	ShortestPath(ctx context.Context, entity1, entity2 string) (*graph.Path, error)
	TemporalEdges(ctx context.Context, source, target string) ([]graph.TemporalEdge, error)
	MajorEvents(ctx context.Context, character, eventType string, limit int) ([]graph.MajorEvent, error)
}

// Aliaser resolves surface names to canonicals.
type Aliaser interface {
	Resolve(ctx context.Context, name string) string
	Expand(ctx context.Context, name string) []string
}
