package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FindConnectionTool finds how two entities relate: the shortest path
// between them in the knowledge graph, rendered as a logic chain.
type FindConnectionTool struct {
	store    GraphReader
	resolver Aliaser
}

func NewFindConnectionTool(store GraphReader, resolver Aliaser) *FindConnectionTool {
	return &FindConnectionTool{store: store, resolver: resolver}
}

func (t *FindConnectionTool) GetName() string {
	return "find_connection"
}

func (t *FindConnectionTool) GetDescription() string {
	return "Find the shortest relationship path between two entities in the knowledge graph"
}

func (t *FindConnectionTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name: t.GetName(),
		Description: "Find the shortest relationship path (up to 4 hops) between two entities. " +
			"Returns a logic chain like 'A -[MEMBER_OF]-> B <-[LEADER_OF]- C'. " +
			"Use for questions like 'what is the relationship between X and Y' or 'how does X know Y'. " +
			"If no path exists, try lookup_knowledge on each entity or search_memory for scenes with both.",
		Parameters: []ToolParameter{
			{
				Name:        "entity1",
				Type:        "string",
				Description: "First entity name",
				Required:    true,
			},
			{
				Name:        "entity2",
				Type:        "string",
				Description: "Second entity name",
				Required:    true,
			},
		},
	}
}

func (t *FindConnectionTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	entity1 := stringArg(args, "entity1")
	entity2 := stringArg(args, "entity2")
	if entity1 == "" || entity2 == "" {
		return errorResult(t.GetName(), "entity1 and entity2 parameters are required", start),
			fmt.Errorf("entity1 and entity2 parameters are required")
	}

	canonical1 := t.resolver.Resolve(ctx, entity1)
	canonical2 := t.resolver.Resolve(ctx, entity2)

	path, err := t.store.ShortestPath(ctx, canonical1, canonical2)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("path query failed: %v", err), start), err
	}

	if path == nil {
		msg := fmt.Sprintf(
			"No connection found between '%s' and '%s' within 4 hops.\n\n"+
				"Suggestions:\n"+
				"- Use lookup_knowledge on each entity separately.\n"+
				"- Use search_memory to find story content where both appear.",
			entity1, entity2)
		return successResult(t.GetName(), msg, start), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Connection: %s ↔ %s\n\n", canonical1, canonical2)
	fmt.Fprintf(&b, "**Path** (%d hops):\n", path.Length)

	b.WriteString(path.Nodes[0])
	for i, rel := range path.Relations {
		fmt.Fprintf(&b, " -[%s]-> %s", rel, path.Nodes[i+1])
	}
	b.WriteString("\n\n**Nodes on the path:**\n")
	for _, node := range path.Nodes {
		fmt.Fprintf(&b, "- %s\n", node)
	}

	return successResult(t.GetName(), b.String(), start), nil
}
