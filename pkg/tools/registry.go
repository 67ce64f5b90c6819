package tools

import (
	"fmt"
	"sort"
	"time"

	"github.com/aurelian-io/chronicle/pkg/registry"
)

// Registry is the name-indexed tool catalog the reasoning controller
// dispatches against.
type Registry struct {
	*registry.BaseRegistry[Tool]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Tool](),
	}
}

func (r *Registry) RegisterTool(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	return r.Register(tool.GetName(), tool)
}

// ListInfos returns the catalog sorted by tool name, for prompt
// rendering and trace capture.
func (r *Registry) ListInfos() []ToolInfo {
	tools := r.List()
	infos := make([]ToolInfo, 0, len(tools))
	for _, tool := range tools {
		infos = append(infos, tool.GetInfo())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func successResult(name, content string, start time.Time) ToolResult {
	return ToolResult{
		Success:       true,
		Content:       content,
		ToolName:      name,
		ExecutionTime: time.Since(start),
	}
}

func errorResult(name, message string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         message,
		ToolName:      name,
		ExecutionTime: time.Since(start),
	}
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
