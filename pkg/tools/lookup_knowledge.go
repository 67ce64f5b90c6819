package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const lookupEdgeLimit = 10

// LookupKnowledgeTool answers "who/what is X" questions from the
// knowledge graph: entity properties and direct relationships.
type LookupKnowledgeTool struct {
	store    GraphReader
	resolver Aliaser
}

func NewLookupKnowledgeTool(store GraphReader, resolver Aliaser) *LookupKnowledgeTool {
	return &LookupKnowledgeTool{store: store, resolver: resolver}
}

func (t *LookupKnowledgeTool) GetName() string {
	return "lookup_knowledge"
}

func (t *LookupKnowledgeTool) GetDescription() string {
	return "Look up an entity's basic facts and direct relationships in the knowledge graph"
}

func (t *LookupKnowledgeTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name: t.GetName(),
		Description: "Query the knowledge graph for basic facts about a character, organization or place. " +
			"Returns the entity's direct relationships as structured rows. " +
			"Aliases resolve automatically (e.g. a title resolves to the character bearing it). " +
			"Use for questions like 'who is X', 'what is X's title', 'who are X's friends'. " +
			"This tool returns relationship structure, not story text; use search_memory for dialogue.",
		Parameters: []ToolParameter{
			{
				Name:        "entity",
				Type:        "string",
				Description: "Name of the character, organization or place to look up",
				Required:    true,
			},
			{
				Name:        "relation",
				Type:        "string",
				Description: "Optional relation type filter, e.g. FRIEND_OF, MEMBER_OF, PARTNER_OF, ENEMY_OF",
				Required:    false,
				Enum: []string{
					"FRIEND_OF", "ENEMY_OF", "PARTNER_OF", "FAMILY_OF",
					"MEMBER_OF", "LEADER_OF", "PARTICIPATED_IN", "INTERACTS_WITH",
				},
			},
		},
	}
}

func (t *LookupKnowledgeTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	entity := stringArg(args, "entity")
	if entity == "" {
		return errorResult(t.GetName(), "entity parameter is required", start),
			fmt.Errorf("entity parameter is required")
	}
	relation := stringArg(args, "relation")

	canonical := t.resolver.Resolve(ctx, entity)

	edges, err := t.store.Neighbors(ctx, canonical, relation, lookupEdgeLimit)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("graph lookup failed: %v", err), start), err
	}

	if len(edges) == 0 {
		msg := fmt.Sprintf("No information found for '%s' in the knowledge graph.", entity)
		if relation != "" {
			msg = fmt.Sprintf("No %s relationships found for '%s' in the knowledge graph.", relation, entity)
		}
		msg += " Suggestion: use search_memory to search story content mentioning this entity."
		return successResult(t.GetName(), msg, start), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Entity: %s\n", canonical)
	if relation != "" {
		fmt.Fprintf(&b, "(filtered by relation: %s)\n", relation)
	}
	b.WriteString("\n")

	for _, edge := range edges {
		fmt.Fprintf(&b, "- [%s] → %s (%s)", edge.Relation, edge.Target, edge.TargetType)
		if edge.Chapter != "" {
			fmt.Fprintf(&b, " [chapter %s", edge.Chapter)
			if edge.TaskID != "" {
				fmt.Fprintf(&b, ", task %s", edge.TaskID)
			}
			b.WriteString("]")
		}
		if edge.Description != "" {
			fmt.Fprintf(&b, ": %s", truncate(edge.Description, 100))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n%d relationships found.\n", len(edges))

	return successResult(t.GetName(), b.String(), start), nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
